package domain

import (
	"encoding/json"
	"maps"
	"sort"
	"strings"
)

// Well-known tag and meta keys.
const (
	TagPatientID         = "PatientID"
	TagStudyInstanceUID  = "StudyInstanceUID"
	TagSeriesInstanceUID = "SeriesInstanceUID"
	TagSOPInstanceUID    = "SOPInstanceUID"
	TagAccessionNumber   = "AccessionNumber"
	TagSeriesDescription = "SeriesDescription"
	TagSeriesNumber      = "SeriesNumber"
	TagStudyDate         = "StudyDate"
	TagStudyTime         = "StudyTime"
	TagRetrieveAETitle   = "RetrieveAETitle"

	MetaQID               = "QID"
	MetaAID               = "AID"
	MetaPath              = "path"
	MetaTransferSyntaxUID = "TransferSyntaxUID"
	MetaTransferSyntax    = "TransferSyntax"
	MetaSOPClassUID       = "SOPClassUID"
	MetaSOPClass          = "SOPClass"

	// DataFile is the Data key holding raw DICOM bytes.
	DataFile = "file"
)

// Dixel is the canonical record for one DICOM-hierarchy entity plus
// associated metadata. Two dixels are the same entity iff their IDs match.
type Dixel struct {
	// ID is backend-assigned or derived with OrthancID.
	ID string `json:"id"`

	// Level is the hierarchy granularity.
	Level Level `json:"level"`

	// Tags holds simplified, flattened DICOM attributes.
	Tags map[string]string `json:"tags,omitempty"`

	// Meta holds auxiliary values: query ids, source path, report fields.
	Meta map[string]string `json:"meta,omitempty"`

	// Data holds binary payloads. Never persisted.
	Data map[string][]byte `json:"-"`

	// Parent is a non-owning back link, set only on query fan-out children.
	Parent *Dixel `json:"-"`

	// Children are candidate matches owned by this dixel.
	Children []*Dixel `json:"-"`

	// Retrieval tracks the remote query/retrieve protocol.
	Retrieval Retrieval `json:"-"`
}

// NewDixel creates a Dixel with initialised maps.
func NewDixel(id string, level Level) *Dixel {
	return &Dixel{
		ID:    id,
		Level: level,
		Tags:  make(map[string]string),
		Meta:  make(map[string]string),
		Data:  make(map[string][]byte),
	}
}

// Clone returns a copy with independent Tags, Meta and Data maps.
// Parent and Children are shared, not copied.
func (d *Dixel) Clone() *Dixel {
	c := *d
	c.Tags = cloneStrings(d.Tags)
	c.Meta = cloneStrings(d.Meta)
	c.Data = make(map[string][]byte, len(d.Data))
	maps.Copy(c.Data, d.Data)
	c.Children = append([]*Dixel(nil), d.Children...)
	return &c
}

// Equal reports whether both dixels identify the same entity.
func (d *Dixel) Equal(other *Dixel) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.ID == other.ID
}

// Less orders dixels by ID.
func (d *Dixel) Less(other *Dixel) bool {
	return d.ID < other.ID
}

// Lookup returns a value from Tags, falling back to Meta.
func (d *Dixel) Lookup(key string) string {
	if v := d.Tags[key]; v != "" {
		return v
	}
	return d.Meta[key]
}

// SetMeta sets a meta value, allocating the map if needed.
func (d *Dixel) SetMeta(key, value string) {
	if d.Meta == nil {
		d.Meta = make(map[string]string)
	}
	d.Meta[key] = value
}

// AddChild appends a candidate match and links it back to d.
func (d *Dixel) AddChild(child *Dixel) {
	child.Parent = d
	d.Children = append(d.Children, child)
}

// String prints a short, log-friendly form of the ID.
func (d *Dixel) String() string {
	if len(d.ID) > 8 {
		return d.ID[:8]
	}
	return d.ID
}

func cloneStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	maps.Copy(out, m)
	return out
}

// Set is a collection of dixels keyed by ID.
type Set map[string]*Dixel

// NewSet builds a Set, keeping the first dixel seen for each ID.
func NewSet(dixels ...*Dixel) Set {
	s := make(Set, len(dixels))
	for _, d := range dixels {
		s.Add(d)
	}
	return s
}

// Add inserts d and reports whether it was not already present.
func (s Set) Add(d *Dixel) bool {
	if d == nil {
		return false
	}
	if _, ok := s[d.ID]; ok {
		return false
	}
	s[d.ID] = d
	return true
}

// Has reports whether a dixel with id is present.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of dixels.
func (s Set) Len() int {
	return len(s)
}

// Difference returns the dixels in s whose IDs are not in other.
func (s Set) Difference(other Set) Set {
	out := make(Set, len(s))
	for id, d := range s {
		if !other.Has(id) {
			out[id] = d
		}
	}
	return out
}

// Sorted returns the dixels ordered by ID.
func (s Set) Sorted() []*Dixel {
	out := make([]*Dixel, 0, len(s))
	for _, d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// IDs returns the sorted IDs.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// String lists abbreviated IDs, sorted.
func (s Set) String() string {
	parts := make([]string, 0, len(s))
	for _, d := range s.Sorted() {
		parts = append(parts, d.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// MarshalJSON encodes the set as a list sorted by ID.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a list of dixels.
func (s *Set) UnmarshalJSON(data []byte) error {
	var list []*Dixel
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = NewSet(list...)
	return nil
}
