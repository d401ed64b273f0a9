package chunk

import (
	"fmt"
	"slices"
	"sync"

	"firestige.xyz/pktstack/internal/core"
)

// Fields is a structured record, typically a protocol header, carried by a
// FieldsChunk. Len is its serialized length.
type Fields interface {
	Tag() Tag
	Len() core.Length
}

// Cloner is implemented by Fields that hold references which Dup must not
// share with the original.
type Cloner interface {
	Clone() Fields
}

// Codec converts between raw bytes and the Fields registered under Tag.
//
// Deserialize must return an error wrapping io.ErrUnexpectedEOF when data is
// too short; the resulting chunk is then marked incomplete. Any other error
// marks the chunk incorrect. In both cases the returned Fields, when not nil,
// should hold whatever could be decoded.
type Codec interface {
	Tag() Tag
	Serialize(f Fields) ([]byte, error)
	Deserialize(data []byte) (Fields, error)
}

// Registry maps representation tags to codecs. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[Tag]Codec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[Tag]Codec)}
}

// DefaultRegistry is used by the package-level peek and serialize functions.
var DefaultRegistry = NewRegistry()

// Register adds c to the default registry.
func Register(c Codec) error {
	return DefaultRegistry.Register(c)
}

// Register adds a codec. Built-in tags are reserved.
func (r *Registry) Register(c Codec) error {
	tag := c.Tag()
	if isBuiltinTag(tag) {
		return fmt.Errorf("%w: tag %q is reserved", core.ErrCodecExists, tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.codecs[tag]; exists {
		return fmt.Errorf("%w: %q", core.ErrCodecExists, tag)
	}
	r.codecs[tag] = c
	return nil
}

// MustRegister is Register for package initialization.
func (r *Registry) MustRegister(c Codec) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the codec registered for tag.
func (r *Registry) Lookup(tag Tag) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[tag]
	return c, ok
}

// Tags lists registered tags in sorted order.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]Tag, 0, len(r.codecs))
	for t := range r.codecs {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

// Opaque holds bytes a codec could not turn into Fields at all.
type Opaque struct {
	tag  Tag
	data []byte
}

func (o *Opaque) Tag() Tag         { return o.tag }
func (o *Opaque) Len() core.Length { return core.Bytes(len(o.data)) }

// Data returns the undecoded bytes. They must not be modified.
func (o *Opaque) Data() []byte { return o.data }
