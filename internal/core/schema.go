package core

// StorageType is the backend-neutral storage type a field kind maps to.
type StorageType string

const (
	StorageKeyword  StorageType = "keyword"
	StorageBoolean  StorageType = "boolean"
	StorageGeoPoint StorageType = "geo_point"
	StorageInteger  StorageType = "integer"
	StorageFloat    StorageType = "float"
	StorageObject   StorageType = "object"
	StorageDate     StorageType = "date"
)

// Mapping describes the structure of a table as installed on a backend.
type Mapping struct {
	// Table is the logical table name.
	Table string

	// PrimaryKey is the name of the primary key field.
	PrimaryKey string

	// Fields holds one entry per persisted field, in schema order.
	Fields []FieldMapping
}

// FieldMapping is the storage declaration of a single field.
type FieldMapping struct {
	// Name is the field name.
	Name string

	// Type is the storage type.
	Type StorageType

	// Indexed asks the backend to build a lookup structure for the field.
	Indexed bool

	// Dynamic marks object fields whose inner structure is not declared.
	Dynamic bool
}

// Field returns the mapping entry for name.
func (m Mapping) Field(name string) (FieldMapping, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMapping{}, false
}

// IndexedFields returns the names of indexed fields.
func (m Mapping) IndexedFields() []string {
	var out []string
	for _, f := range m.Fields {
		if f.Indexed {
			out = append(out, f.Name)
		}
	}
	return out
}
