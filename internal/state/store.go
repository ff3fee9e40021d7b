package state

import "stacklend/internal/model"

// Store persists relayer state. Load returns the zero state when no prior
// state exists or the stored document cannot be read; it never fails the
// caller. Save overwrites the full state document.
//
// All mutation goes through the single relayer goroutine; running multiple
// relayer processes against the same backing store is undefined behavior.
type Store interface {
	Load() model.RelayerState
	Save(state model.RelayerState) error
}
