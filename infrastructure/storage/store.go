// Package storage persists the engine's durable state in BadgerDB: in-flight
// pull requests, pending update queues, and the build-asset registry. Values
// are JSON encoded under typed key prefixes.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	logger "github.com/sirupsen/logrus"

	"github.com/rios0rios0/depflow/domain"
)

const (
	prefixPullRequest    = "pr/"
	prefixPendingQueue   = "queue/"
	prefixSubscription   = "subscription/"
	prefixBuild          = "build/"
	prefixDefaultChannel = "defaultchannel/"
	prefixBranchPolicy   = "branchpolicy/"
	prefixBranchUpdate   = "branchupdate/"
)

// Config selects where the database lives. InMemory is meant for tests.
type Config struct {
	Path     string
	InMemory bool
}

// Store implements both domain.StateStore and domain.MetadataStore on a
// single BadgerDB instance.
type Store struct {
	db *badger.DB
}

// Open creates or opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("storage path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- StateStore ---

func (s *Store) GetInProgressPullRequest(unitKey string) (domain.InProgressPullRequest, bool, error) {
	var pr domain.InProgressPullRequest
	err := s.getJSON(prefixPullRequest+unitKey, &pr)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.InProgressPullRequest{}, false, nil
	}
	if err != nil {
		return domain.InProgressPullRequest{}, false, err
	}
	return pr, true, nil
}

func (s *Store) SetInProgressPullRequest(unitKey string, pr domain.InProgressPullRequest) error {
	return s.putJSON(prefixPullRequest+unitKey, pr)
}

func (s *Store) RemoveInProgressPullRequest(unitKey string) error {
	return s.delete(prefixPullRequest + unitKey)
}

func (s *Store) GetPendingUpdates(unitKey string) ([]domain.UpdateAssetsParameters, error) {
	var queue []domain.UpdateAssetsParameters
	err := s.getJSON(prefixPendingQueue+unitKey, &queue)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return queue, nil
}

func (s *Store) AppendPendingUpdate(unitKey string, update domain.UpdateAssetsParameters) error {
	key := []byte(prefixPendingQueue + unitKey)
	return s.db.Update(func(txn *badger.Txn) error {
		var queue []domain.UpdateAssetsParameters

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &queue)
			}); err != nil {
				return err
			}
		}

		queue = append(queue, update)
		value, err := json.Marshal(queue)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
}

func (s *Store) ClearPendingUpdates(unitKey string) error {
	return s.delete(prefixPendingQueue + unitKey)
}

// --- MetadataStore ---

func (s *Store) GetSubscription(id string) (domain.Subscription, error) {
	var sub domain.Subscription
	err := s.getJSON(prefixSubscription+id, &sub)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Subscription{}, fmt.Errorf("subscription %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

func (s *Store) PutSubscription(sub domain.Subscription) error {
	if sub.ID == "" {
		return errors.New("subscription id is required")
	}
	return s.putJSON(prefixSubscription+sub.ID, sub)
}

func (s *Store) ListSubscriptions() ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := s.list(prefixSubscription, func(value []byte) error {
		var sub domain.Subscription
		if err := json.Unmarshal(value, &sub); err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	})
	return subs, err
}

func (s *Store) GetBuild(id string) (domain.Build, error) {
	var build domain.Build
	err := s.getJSON(prefixBuild+id, &build)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Build{}, fmt.Errorf("build %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Build{}, err
	}
	return build, nil
}

func (s *Store) PutBuild(build domain.Build) error {
	if build.ID == "" {
		return errors.New("build id is required")
	}
	return s.putJSON(prefixBuild+build.ID, build)
}

func (s *Store) ListDefaultChannels() ([]domain.DefaultChannel, error) {
	var channels []domain.DefaultChannel
	err := s.list(prefixDefaultChannel, func(value []byte) error {
		var dc domain.DefaultChannel
		if err := json.Unmarshal(value, &dc); err != nil {
			return err
		}
		channels = append(channels, dc)
		return nil
	})
	return channels, err
}

func (s *Store) PutDefaultChannel(dc domain.DefaultChannel) error {
	key := prefixDefaultChannel + branchKey(dc.Repository, dc.Branch) + "|" + strings.ToLower(dc.ChannelName)
	return s.putJSON(key, dc)
}

func (s *Store) MarkSubscriptionApplied(subscriptionID, buildID string) error {
	sub, err := s.GetSubscription(subscriptionID)
	if err != nil {
		return err
	}
	sub.LastAppliedBuildID = buildID
	return s.PutSubscription(sub)
}

func (s *Store) GetBranchMergePolicies(repo, branch string) ([]domain.MergePolicyDefinition, error) {
	var policies []domain.MergePolicyDefinition
	err := s.getJSON(prefixBranchPolicy+branchKey(repo, branch), &policies)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return policies, nil
}

func (s *Store) PutBranchMergePolicies(repo, branch string, policies []domain.MergePolicyDefinition) error {
	return s.putJSON(prefixBranchPolicy+branchKey(repo, branch), policies)
}

func (s *Store) RecordBranchUpdate(repo, branch string, update domain.BranchUpdate) error {
	return s.putJSON(prefixBranchUpdate+branchKey(repo, branch), update)
}

// GetLatestBranchUpdate returns the most recent audit record for a branch, or
// ErrNotFound when no action has been recorded.
func (s *Store) GetLatestBranchUpdate(repo, branch string) (domain.BranchUpdate, error) {
	var update domain.BranchUpdate
	err := s.getJSON(prefixBranchUpdate+branchKey(repo, branch), &update)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.BranchUpdate{}, fmt.Errorf("branch update %s@%s: %w", repo, branch, domain.ErrNotFound)
	}
	if err != nil {
		return domain.BranchUpdate{}, err
	}
	return update, nil
}

// --- helpers ---

func branchKey(repo, branch string) string {
	return strings.ToLower(repo) + "|" + branch
}

func (s *Store) getJSON(key string, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, out)
		})
	})
}

func (s *Store) putJSON(key string, in any) error {
	value, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *Store) list(prefix string, visit func(value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(visit); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger routes badger's internal logging through the application
// logger at reduced verbosity.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any)   { logger.Errorf(format, args...) }
func (badgerLogger) Warningf(format string, args ...any) { logger.Warnf(format, args...) }
func (badgerLogger) Infof(format string, args ...any)    { logger.Debugf(format, args...) }
func (badgerLogger) Debugf(format string, args ...any)   { logger.Debugf(format, args...) }
