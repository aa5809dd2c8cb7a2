package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/norkcraft/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoOTP はotp_codesコレクションのドキュメント。_idはユーザーID。
// expires_atにはTTLインデックスを張り、期限切れドキュメントはサーバー側で削除される。
type mongoOTP struct {
	UserID    string    `bson:"_id"`
	CodeHash  []byte    `bson:"code_hash"`
	CodeSalt  []byte    `bson:"code_salt"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoOTPRepo はMongoDBを使用したOTPリポジトリ。
type MongoOTPRepo struct {
	coll *mongo.Collection
}

// NewMongoOTPRepo はMongoOTPRepoを生成する。
func NewMongoOTPRepo(db *mongo.Database) *MongoOTPRepo {
	return &MongoOTPRepo{coll: db.Collection(OTPCollection)}
}

// Save はユーザーのOTPをupsertで置き換える。
func (r *MongoOTPRepo) Save(ctx context.Context, code *model.OTPCode) error {
	doc := mongoOTP{
		UserID:    code.UserID,
		CodeHash:  code.CodeHash,
		CodeSalt:  code.CodeSalt,
		ExpiresAt: code.ExpiresAt,
		CreatedAt: code.CreatedAt,
	}
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": code.UserID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save otp: %w", err)
	}
	return nil
}

// FindByUserID はユーザーのOTPを取得する。見つからない場合はnilを返す。
func (r *MongoOTPRepo) FindByUserID(ctx context.Context, userID string) (*model.OTPCode, error) {
	var doc mongoOTP
	err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find otp: %w", err)
	}
	return &model.OTPCode{
		UserID:    doc.UserID,
		CodeHash:  doc.CodeHash,
		CodeSalt:  doc.CodeSalt,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// DeleteByUserID はユーザーのOTPを削除する。
func (r *MongoOTPRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OTPRepository = (*MongoOTPRepo)(nil)
