package auth

import (
	"errors"
	"sort"
	"time"

	"fnrelay.dev/store"
)

const (
	usersBucket         = "auth_users"
	usernameIndexBucket = "auth_usernames"
	emailIndexBucket    = "auth_emails"
	refreshTokenBucket  = "auth_refresh_tokens"
	auditLogBucket      = "auth_audit_log"
)

// BoltStore is the UserStore implementation the platform runs with when no
// other session-auth backend is configured — the external collaborator's
// storage is otherwise opaque to the core.
type BoltStore struct {
	db *store.DB
}

// NewBoltStore opens the auth buckets, creating them on first use.
func NewBoltStore(db *store.DB) (*BoltStore, error) {
	for _, bucket := range []string{usersBucket, usernameIndexBucket, emailIndexBucket, refreshTokenBucket, auditLogBucket} {
		if err := db.CreateBucket(bucket); err != nil {
			return nil, err
		}
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) CreateUser(user *User) error {
	if err := s.db.PutJSON(usersBucket, user.ID, user); err != nil {
		return err
	}
	if err := s.db.PutJSON(usernameIndexBucket, user.Username, user.ID); err != nil {
		return err
	}
	if user.Email != "" {
		if err := s.db.PutJSON(emailIndexBucket, user.Email, user.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) GetUser(id string) (*User, error) {
	var user User
	if err := s.db.GetJSON(usersBucket, id, &user); err != nil {
		return nil, mapNotFound(err)
	}
	return &user, nil
}

func (s *BoltStore) GetUserByUsername(username string) (*User, error) {
	var id string
	if err := s.db.GetJSON(usernameIndexBucket, username, &id); err != nil {
		return nil, mapNotFound(err)
	}
	return s.GetUser(id)
}

func (s *BoltStore) GetUserByEmail(email string) (*User, error) {
	var id string
	if err := s.db.GetJSON(emailIndexBucket, email, &id); err != nil {
		return nil, mapNotFound(err)
	}
	return s.GetUser(id)
}

func (s *BoltStore) UpdateUser(user *User) error {
	return s.db.PutJSON(usersBucket, user.ID, user)
}

func (s *BoltStore) DeleteUser(id string) error {
	user, err := s.GetUser(id)
	if err != nil {
		return err
	}
	if err := s.db.Delete(usernameIndexBucket, user.Username); err != nil {
		return err
	}
	if user.Email != "" {
		if err := s.db.Delete(emailIndexBucket, user.Email); err != nil {
			return err
		}
	}
	return s.db.Delete(usersBucket, id)
}

func (s *BoltStore) ListUsers() ([]*User, error) {
	var users []*User
	err := s.db.ForEachJSON(usersBucket, func() interface{} { return &User{} }, func(_ string, value interface{}) error {
		users = append(users, value.(*User))
		return nil
	})
	return users, err
}

// RecordLoginAttempt is a no-op: attempts are not recorded, and the
// user row's FailedLogins counter only changes through UpdateUser.
func (s *BoltStore) RecordLoginAttempt(username string, success bool) error {
	return nil
}

func (s *BoltStore) SaveRefreshToken(token *RefreshToken) error {
	return s.db.PutJSON(refreshTokenBucket, token.ID, token)
}

func (s *BoltStore) GetRefreshToken(id string) (*RefreshToken, error) {
	var token RefreshToken
	if err := s.db.GetJSON(refreshTokenBucket, id, &token); err != nil {
		return nil, mapNotFound(err)
	}
	return &token, nil
}

func (s *BoltStore) GetRefreshTokensByUserID(userID string) ([]*RefreshToken, error) {
	var tokens []*RefreshToken
	err := s.db.ForEachJSON(refreshTokenBucket, func() interface{} { return &RefreshToken{} }, func(_ string, value interface{}) error {
		token := value.(*RefreshToken)
		if token.UserID == userID {
			tokens = append(tokens, token)
		}
		return nil
	})
	return tokens, err
}

func (s *BoltStore) RevokeRefreshToken(id string) error {
	token, err := s.GetRefreshToken(id)
	if err != nil {
		return err
	}
	token.Revoked = true
	return s.db.PutJSON(refreshTokenBucket, id, token)
}

func (s *BoltStore) DeleteExpiredRefreshTokens() error {
	var expired []string
	now := time.Now()
	err := s.db.ForEachJSON(refreshTokenBucket, func() interface{} { return &RefreshToken{} }, func(key string, value interface{}) error {
		token := value.(*RefreshToken)
		if token.ExpiresAt.Before(now) {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range expired {
		if err := s.db.Delete(refreshTokenBucket, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) SaveAuditLog(log *AuditLog) error {
	return s.db.PutJSON(auditLogBucket, log.ID, log)
}

func (s *BoltStore) GetAuditLogs(criteria AuditSearchCriteria) ([]*AuditLog, error) {
	var logs []*AuditLog
	err := s.db.ForEachJSON(auditLogBucket, func() interface{} { return &AuditLog{} }, func(_ string, value interface{}) error {
		log := value.(*AuditLog)
		if matchesCriteria(log, criteria) {
			logs = append(logs, log)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Timestamp.After(logs[j].Timestamp) })
	if criteria.Offset > 0 && criteria.Offset < len(logs) {
		logs = logs[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(logs) {
		logs = logs[:criteria.Limit]
	}
	return logs, nil
}

func matchesCriteria(log *AuditLog, criteria AuditSearchCriteria) bool {
	if criteria.UserID != "" && log.UserID != criteria.UserID {
		return false
	}
	if criteria.Username != "" && log.Username != criteria.Username {
		return false
	}
	if criteria.Action != "" && log.Action != criteria.Action {
		return false
	}
	if criteria.Resource != "" && log.Resource != criteria.Resource {
		return false
	}
	if criteria.Success != nil && log.Success != *criteria.Success {
		return false
	}
	if criteria.StartTime != nil && log.Timestamp.Before(*criteria.StartTime) {
		return false
	}
	if criteria.EndTime != nil && log.Timestamp.After(*criteria.EndTime) {
		return false
	}
	return true
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrKeyNotFound) {
		return ErrUserNotFound
	}
	return err
}
