package database

import (
	"fmt"

	"github.com/tidwall/buntdb"
)

// OpenBunt はbuntdbファイルを開く。":memory:"を指定するとメモリ上にのみ保持する。
func OpenBunt(path string) (*buntdb.DB, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb %q: %w", path, err)
	}
	return db, nil
}
