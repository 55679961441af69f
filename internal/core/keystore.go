package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soundbysound/apigateway/internal/model"
)

// KeyBackend API Key 存储后端，可替换为持久化实现
type KeyBackend interface {
	Get(key string) (*model.APIKeyRecord, bool, error)
	Put(rec *model.APIKeyRecord) error
	// Delete reports whether the key was present.
	Delete(key string) (bool, error)
	List() ([]*model.APIKeyRecord, error)
	// Update applies fn to the stored record atomically. Reports whether the key was present.
	Update(key string, fn func(rec *model.APIKeyRecord)) (bool, error)
	Close() error
}

// MemoryBackend 进程内存储，进程退出即丢失
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*model.APIKeyRecord
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*model.APIKeyRecord)}
}

func (m *MemoryBackend) Get(key string) (*model.APIKeyRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *MemoryBackend) Put(rec *model.APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key] = rec.Clone()
	return nil
}

func (m *MemoryBackend) Delete(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; !ok {
		return false, nil
	}
	delete(m.records, key)
	return true, nil
}

func (m *MemoryBackend) List() ([]*model.APIKeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.APIKeyRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) Update(key string, fn func(rec *model.APIKeyRecord)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return false, nil
	}
	fn(rec)
	return true, nil
}

// Close drops all records.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*model.APIKeyRecord)
	return nil
}

// KeyStatus Resolve 的结果分类
type KeyStatus int

const (
	KeyNotFound KeyStatus = iota
	KeyActive
	KeyExpired
)

func (s KeyStatus) String() string {
	switch s {
	case KeyActive:
		return "active"
	case KeyExpired:
		return "expired"
	default:
		return "not_found"
	}
}

// Resolution 密钥解析结果，仅 KeyActive 时 Record 非空
type Resolution struct {
	Status KeyStatus
	Record *model.APIKeyRecord
}

// KeyStore API Key 生命周期管理
type KeyStore struct {
	backend KeyBackend
	now     func() time.Time
	prefix  string
}

// KeyStoreOption 配置项
type KeyStoreOption func(*KeyStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) KeyStoreOption {
	return func(s *KeyStore) { s.now = now }
}

// WithKeyPrefix sets the prefix of issued keys.
func WithKeyPrefix(prefix string) KeyStoreOption {
	return func(s *KeyStore) { s.prefix = prefix }
}

// NewKeyStore 创建 KeyStore
func NewKeyStore(backend KeyBackend, opts ...KeyStoreOption) *KeyStore {
	s := &KeyStore{
		backend: backend,
		now:     time.Now,
		prefix:  DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue 签发新密钥
func (s *KeyStore) Issue(req model.IssueKeyRequest) (*model.APIKeyRecord, error) {
	key, err := GenerateKey(s.prefix)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	now := s.now().UTC()
	rec := &model.APIKeyRecord{
		Key:       key,
		AppName:   req.AppName,
		Developer: req.Developer,
		Email:     req.Email,
		Purpose:   req.Purpose,
		RateLimit: req.RateLimit,
		Expiry:    model.ExpiryIn(now, req.Expiry),
		CreatedAt: now,
	}
	if err := s.backend.Put(rec); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}
	return rec.Clone(), nil
}

// List 返回脱敏后的全部密钥，读取时顺带清理已过期的记录
func (s *KeyStore) List() ([]model.APIKeyView, error) {
	records, err := s.backend.List()
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]model.APIKeyView, 0, len(records))
	for _, rec := range records {
		if rec.Expiry.Expired(now) {
			if _, err := s.backend.Delete(rec.Key); err != nil {
				return nil, err
			}
			continue
		}
		views = append(views, rec.ToView())
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views, nil
}

// Revoke 删除密钥
func (s *KeyStore) Revoke(key string) error {
	ok, err := s.backend.Delete(key)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(KindNotFound)
	}
	return nil
}

// Resolve 解析密钥；过期记录在此处删除
func (s *KeyStore) Resolve(key string) (Resolution, error) {
	rec, ok, err := s.backend.Get(key)
	if err != nil {
		return Resolution{}, err
	}
	if !ok {
		return Resolution{Status: KeyNotFound}, nil
	}
	if rec.Expiry.Expired(s.now()) {
		if _, err := s.backend.Delete(key); err != nil {
			return Resolution{}, err
		}
		return Resolution{Status: KeyExpired}, nil
	}
	return Resolution{Status: KeyActive, Record: rec}, nil
}

// Lookup returns the active record, or a KindNotFound / KindExpiredAPIKey error.
func (s *KeyStore) Lookup(key string) (*model.APIKeyRecord, error) {
	res, err := s.Resolve(key)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case KeyActive:
		return res.Record, nil
	case KeyExpired:
		return nil, NewError(KindExpiredAPIKey)
	default:
		return nil, NewError(KindNotFound)
	}
}

// RecordUsage 请求计数加一并更新最后使用时间，密钥不存在时忽略
func (s *KeyStore) RecordUsage(key string) error {
	now := s.now().UTC()
	_, err := s.backend.Update(key, func(rec *model.APIKeyRecord) {
		rec.RequestCount++
		rec.LastUsedAt = &now
	})
	return err
}

// Close 关闭后端
func (s *KeyStore) Close() error {
	return s.backend.Close()
}
