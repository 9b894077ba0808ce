package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyPassword は存在しないユーザーに対する比較で使う平文。
const dummyPassword = "groupware-timing-parity"

// PasswordHasher はパスワードハッシュの生成と照合を行うインターフェース。
type PasswordHasher interface {
	// Hash は平文パスワードのハッシュを生成する。
	Hash(password string) (string, error)
	// Compare はハッシュと平文が一致する場合にtrueを返す。
	Compare(hash, password string) bool
	// CompareDummy は一致判定を行わずに同等のコストだけを消費する。
	CompareDummy(password string)
}

// BcryptHasher はbcryptによるPasswordHasherの実装。
type BcryptHasher struct {
	cost      int
	dummyHash []byte
}

// NewBcryptHasher はBcryptHasherを生成する。
// costが範囲外の場合はbcrypt.DefaultCostを使用する。
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dummy hash: %w", err)
	}
	return &BcryptHasher{cost: cost, dummyHash: dummy}, nil
}

// Hash は平文パスワードのハッシュを生成する。
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare はハッシュと平文が一致する場合にtrueを返す。
// ハッシュが空または壊れている場合はfalseを返す。
func (h *BcryptHasher) Compare(hash, password string) bool {
	if hash == "" {
		h.CompareDummy(password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CompareDummy はダミーハッシュと比較し、実在ユーザーと同程度の処理時間を消費する。
func (h *BcryptHasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

// compile-time interface check
var _ PasswordHasher = (*BcryptHasher)(nil)
