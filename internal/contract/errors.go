package contract

import "errors"

var (
	// ErrInvalidContract indicates a contract violating a structural
	// invariant (voter outside replicas, primary outside replicas).
	ErrInvalidContract = errors.New("contract: structural invariant violated")
	// ErrInvalidConfig indicates a table config that cannot describe a
	// keyspace (shard/scheme mismatch, unordered split points).
	ErrInvalidConfig = errors.New("contract: invalid table config")
)

// IsInvalidContractError reports whether err represents a contract
// structural violation.
func IsInvalidContractError(err error) bool {
	return errors.Is(err, ErrInvalidContract)
}

// IsInvalidConfigError reports whether err represents an unusable table
// config.
func IsInvalidConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
