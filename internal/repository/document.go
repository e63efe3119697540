package repository

import (
	"context"
	"errors"

	"github.com/user/cinematch/internal/model"
)

// ErrUnavailable 文档存储不可达（网络或数据库连接问题）
var ErrUnavailable = errors.New("document store unavailable")

// ChangeFunc 远端文档变更回调；doc 为 nil 表示文档已被删除
type ChangeFunc func(doc *model.PreferenceSet)

// DocumentStore 每个用户一份偏好文档的远端存储
type DocumentStore interface {
	// GetDocument 文档不存在时返回 nil, nil
	GetDocument(ctx context.Context, userID string) (*model.PreferenceSet, error)
	SetDocument(ctx context.Context, userID string, doc model.PreferenceSet) error
	// CreateDocument 新用户初始化，附带基础资料
	CreateDocument(ctx context.Context, userID string, profile model.UserProfile, doc model.PreferenceSet) error
	DeleteDocument(ctx context.Context, userID string) error
	// Subscribe 订阅某个用户文档的实时变更，返回取消函数
	Subscribe(userID string, fn ChangeFunc) func()
	Ping(ctx context.Context) error
}
