package schema

import (
	"fmt"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// storageTypes maps every field kind to its backend-neutral storage type.
var storageTypes = map[Kind]core.StorageType{
	KindString:   core.StorageKeyword,
	KindUUID:     core.StorageKeyword,
	KindBoolean:  core.StorageBoolean,
	KindGeoPoint: core.StorageGeoPoint,
	KindInteger:  core.StorageInteger,
	KindFloat:    core.StorageFloat,
	KindList:     core.StorageObject,
	KindSet:      core.StorageObject,
	KindDict:     core.StorageObject,
	KindDateTime: core.StorageDate,
}

// StorageTypeOf returns the storage type for k.
func StorageTypeOf(k Kind) (core.StorageType, error) {
	st, ok := storageTypes[k]
	if !ok {
		return "", fmt.Errorf("no storage type for field kind %s", k)
	}
	return st, nil
}
