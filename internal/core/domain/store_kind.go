package domain

// StoreKind identifies a store variant. Copy policies are keyed by
// (source kind, destination kind).
type StoreKind string

const (
	KindFile        StoreKind = "file"
	KindArchive     StoreKind = "orthanc"
	KindProxy       StoreKind = "proxy"
	KindSearchIndex StoreKind = "montage"
	KindLogIndex    StoreKind = "logindex"
)

// AllStoreKinds lists every known kind.
func AllStoreKinds() []StoreKind {
	return []StoreKind{KindFile, KindArchive, KindProxy, KindSearchIndex, KindLogIndex}
}

func (k StoreKind) String() string {
	return string(k)
}
