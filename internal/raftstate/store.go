package raftstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	bolt "go.etcd.io/bbolt"

	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/coordinator"
	"helmdb/internal/region"
	"helmdb/internal/replication"
)

const (
	boltFileName = "coordinator.state"
	lockFileName = "LOCK"

	contractsBucket = "contracts"
	branchesBucket  = "branches"
	metaBucket      = "meta"

	currentBranchesKey = "current_branches"
	configKey          = "config"
)

// Store persists the coordinator's applied control state so a restarted
// coordinator resumes from where the log left it. The data directory is
// guarded with a file lock against concurrent coordinators.
type Store struct {
	db   *bolt.DB
	lock *flock.Flock
}

// Open creates or opens a store rooted at dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("raftstate: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	held, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, fmt.Errorf("raftstate: directory %s is locked by another coordinator", dir)
	}
	db, err := bolt.Open(filepath.Join(dir, boltFileName), 0o600, &bolt.Options{Timeout: 0})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{contractsBucket, branchesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return &Store{db: db, lock: lock}, nil
}

// Close releases the database and the directory lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if e := s.lock.Unlock(); err == nil {
		err = e
	}
	return err
}

// SaveConfig persists the table config.
func (s *Store) SaveConfig(cfg contract.TableConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(configKey), data)
	})
}

// ApplyCommand folds one committed command into the persisted state.
func (s *Store) ApplyCommand(cmd *replication.Command) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		contracts := tx.Bucket([]byte(contractsBucket))
		for _, id := range cmd.Remove {
			if err := contracts.Delete([]byte(id.String())); err != nil {
				return err
			}
		}
		for _, add := range cmd.Add {
			data, err := json.Marshal(coordinator.RegionContract{Region: add.Region, Contract: add.Contract})
			if err != nil {
				return err
			}
			if err := contracts.Put([]byte(add.ID.String()), data); err != nil {
				return err
			}
		}
		if len(cmd.Branches) == 0 {
			return nil
		}

		branches := tx.Bucket([]byte(branchesBucket))
		meta := tx.Bucket([]byte(metaBucket))
		current := region.NewMap(region.Universe(), branch.Nil)
		if raw := meta.Get([]byte(currentBranchesKey)); len(raw) > 0 {
			if err := json.Unmarshal(raw, current); err != nil {
				return err
			}
		}
		for _, reg := range cmd.Branches {
			if reg.Certificate != nil {
				data, err := json.Marshal(reg.Certificate)
				if err != nil {
					return err
				}
				if err := branches.Put([]byte(reg.Branch.String()), data); err != nil {
					return err
				}
			}
			br := reg.Branch
			current.Update(reg.Region,
				func(b branch.ID) branch.ID { return b },
				func(_ region.Region, _ branch.ID) branch.ID { return br })
		}
		data, err := json.Marshal(current)
		if err != nil {
			return err
		}
		return meta.Put([]byte(currentBranchesKey), data)
	})
}

// LoadState reconstructs the coordinator state from disk. Contract branch
// fields are restored from the current-branch map where it is homogeneous
// over the contract's region.
func (s *Store) LoadState() (*coordinator.State, error) {
	state := coordinator.NewState()
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		if raw := meta.Get([]byte(configKey)); len(raw) > 0 {
			if err := json.Unmarshal(raw, &state.Config); err != nil {
				return err
			}
		}
		if raw := meta.Get([]byte(currentBranchesKey)); len(raw) > 0 {
			if err := json.Unmarshal(raw, state.CurrentBranches); err != nil {
				return err
			}
		}

		branches := tx.Bucket([]byte(branchesBucket))
		if err := branches.ForEach(func(k, v []byte) error {
			var id branch.ID
			if err := id.UnmarshalText(k); err != nil {
				return err
			}
			var cert replication.Certificate
			if err := json.Unmarshal(v, &cert); err != nil {
				return err
			}
			return state.BranchHistory.Add(id, branch.BirthCertificate{
				Region:           cert.Region,
				Origin:           cert.Origin,
				InitialTimestamp: cert.InitialTimestamp,
			})
		}); err != nil {
			return err
		}

		contracts := tx.Bucket([]byte(contractsBucket))
		return contracts.ForEach(func(k, v []byte) error {
			var id contract.ID
			if err := id.UnmarshalText(k); err != nil {
				return err
			}
			var rc coordinator.RegionContract
			if err := json.Unmarshal(v, &rc); err != nil {
				return err
			}
			state.Contracts[id] = rc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for id, rc := range state.Contracts {
		if br, ok := homogeneousBranch(state.CurrentBranches, rc.Region); ok {
			rc.Contract.Branch = br
			state.Contracts[id] = rc
		}
	}
	return state, nil
}

func homogeneousBranch(m *region.Map[branch.ID], reg region.Region) (branch.ID, bool) {
	var out branch.ID
	first, uniform := true, true
	m.Visit(reg, func(_ region.Region, id branch.ID) {
		if first {
			out, first = id, false
		} else if id != out {
			uniform = false
		}
	})
	return out, !first && uniform
}
