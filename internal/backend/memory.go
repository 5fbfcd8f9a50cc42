package backend

// MemoryName is the registry name of the in-process hash table backend.
const MemoryName = "memory"

func init() {
	Register(MemoryName, Capabilities{}, func(opts Options) (Backend, error) {
		return NewMemory(), nil
	})
}

// Memory is a plain Go map. It has no notion of durability and loses
// everything on Close; Put and Get fail afterwards. It is not safe for
// concurrent use.
type Memory struct {
	data map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Put(key, value []byte) error {
	if m.data == nil {
		return closedError("put")
	}
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Get(key []byte) ([]byte, error) {
	if m.data == nil {
		return nil, closedError("get")
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, notFoundError(key)
	}
	return v, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	return len(m.data)
}

func (m *Memory) Close() error {
	m.data = nil
	return nil
}
