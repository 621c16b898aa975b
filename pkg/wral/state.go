package wral

// State is the capability a Wal's caller-defined application state must
// implement. A copy of it is serialized into every flushed batch and
// restored from the newest batch of the newest journal on Load, mirroring
// journal.rs's generic S: Default + Serialize + DeserializeOwned bound;
// Go has no Default trait, so Load takes an explicit newState factory
// instead of relying on S's zero value.
type State interface {
	ToBytes() ([]byte, error)
	FromBytes([]byte) error
}

// NoState is the degenerate State for callers with nothing to persist
// beyond the log entries themselves.
type NoState struct{}

func (*NoState) ToBytes() ([]byte, error) { return nil, nil }
func (*NoState) FromBytes([]byte) error   { return nil }
