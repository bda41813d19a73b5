package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/meridian-gw/meridian-gw/internal/nav"
)

// Store persists the session record into exactly one of two backends, chosen
// per save by the remember flag. Saving to one side always clears the other,
// so a live session never exists in both.
type Store struct {
	durable   Backend
	transient Backend
	logger    *slog.Logger
}

// NewStore constructs a Store over the durable and transient backends.
func NewStore(durable, transient Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{durable: durable, transient: transient, logger: logger}
}

// Save writes the record's fields to the selected backend and removes every
// session key from the other one. Nil Permissions or NavTree are treated as
// absent and skipped, which keeps a phase-one record from loading later.
func (s *Store) Save(ctx context.Context, rec *Record, remember bool) error {
	target, other := s.transient, s.durable
	if remember {
		target, other = s.durable, s.transient
	}

	// Clear the other side first: if the writes below fail midway, the
	// worst case is one backend with a partial record, which Load rejects.
	if err := other.Delete(ctx, sessionKeys...); err != nil {
		return fmt.Errorf("session: clear inactive backend: %w", err)
	}
	// The target is cleared too. Keys this record does not carry (a
	// phase-one save has no permissions or nav tree yet) must not survive
	// from an earlier session and complete it into a hybrid record.
	if err := target.Delete(ctx, sessionKeys...); err != nil {
		return fmt.Errorf("session: clear stale keys: %w", err)
	}

	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}

	fields := map[string]string{
		keyRecordID:    rec.RecordID,
		keyAccessToken: rec.Credential.AccessToken,
		keyIDToken:     rec.Credential.IDToken,
		keyUserID:      strconv.FormatInt(rec.UserID, 10),
		keyUsername:    rec.Username,
		keyFullName:    rec.FullName,
	}

	roles, err := json.Marshal(rec.Roles)
	if err != nil {
		return fmt.Errorf("session: marshal roles: %w", err)
	}
	fields[keyRoles] = string(roles)

	if rec.Permissions != nil {
		perms, err := json.Marshal(rec.Permissions)
		if err != nil {
			return fmt.Errorf("session: marshal permissions: %w", err)
		}
		fields[keyPermissions] = string(perms)
	}
	if rec.NavTree != nil {
		tree, err := json.Marshal(rec.NavTree)
		if err != nil {
			return fmt.Errorf("session: marshal nav tree: %w", err)
		}
		fields[keyNavTree] = string(tree)
	}

	for key, value := range fields {
		if err := target.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Load checks the durable backend first and falls back to the transient one.
// A record is returned only when every required field is present and parses;
// an incomplete or corrupt record counts as "no session", never as an error.
// Backend I/O failures are logged and the backend treated as empty.
func (s *Store) Load(ctx context.Context) (*Record, bool) {
	for _, probe := range []struct {
		backend    Backend
		remembered bool
	}{
		{s.durable, true},
		{s.transient, false},
	} {
		rec, ok, err := loadFrom(ctx, probe.backend)
		if err != nil {
			s.logger.Warn("session backend unreachable during load", slog.Any("error", err))
			continue
		}
		if ok {
			rec.Remembered = probe.remembered
			return rec, true
		}
	}
	return nil, false
}

// Clear removes every session key from both backends. Idempotent.
func (s *Store) Clear(ctx context.Context) error {
	errDurable := s.durable.Delete(ctx, sessionKeys...)
	errTransient := s.transient.Delete(ctx, sessionKeys...)
	return errors.Join(errDurable, errTransient)
}

func loadFrom(ctx context.Context, b Backend) (*Record, bool, error) {
	read := func(key string) (string, bool, error) {
		return b.Get(ctx, key)
	}

	rec := &Record{}

	token, ok, err := read(keyAccessToken)
	if err != nil {
		return nil, false, err
	}
	if !ok || token == "" {
		return nil, false, nil
	}
	rec.Credential.AccessToken = token

	// Optional field: absence is fine, presence is kept verbatim.
	if idToken, ok, err := read(keyIDToken); err != nil {
		return nil, false, err
	} else if ok {
		rec.Credential.IDToken = idToken
	}
	if recordID, ok, err := read(keyRecordID); err != nil {
		return nil, false, err
	} else if ok {
		rec.RecordID = recordID
	}

	rawUserID, ok, err := read(keyUserID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	userID, perr := strconv.ParseInt(rawUserID, 10, 64)
	if perr != nil {
		return nil, false, nil
	}
	rec.UserID = userID

	if rec.Username, ok, err = read(keyUsername); err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, nil
	}
	if rec.FullName, ok, err = read(keyFullName); err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, nil
	}

	rawRoles, ok, err := read(keyRoles)
	if err != nil {
		return nil, false, err
	}
	if !ok || json.Unmarshal([]byte(rawRoles), &rec.Roles) != nil {
		return nil, false, nil
	}

	rawPerms, ok, err := read(keyPermissions)
	if err != nil {
		return nil, false, err
	}
	if !ok || json.Unmarshal([]byte(rawPerms), &rec.Permissions) != nil {
		return nil, false, nil
	}
	if rec.Permissions == nil {
		rec.Permissions = []string{}
	}

	rawTree, ok, err := read(keyNavTree)
	if err != nil {
		return nil, false, err
	}
	if !ok || json.Unmarshal([]byte(rawTree), &rec.NavTree) != nil {
		return nil, false, nil
	}
	if rec.NavTree == nil {
		rec.NavTree = []nav.Item{}
	}

	return rec, true, nil
}
