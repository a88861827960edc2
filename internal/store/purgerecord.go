package store

import (
	"github.com/rhashimoto/preview/internal/blockcodec"
	"github.com/rhashimoto/preview/internal/kvstore"
)

// purgeRecord is the decoded payload of the synthetic (path, "purge", 0)
// record (SPEC_FULL.md §4.3/§4.7): page index -> version threshold above
// which (i.e. numerically greater, since smaller is newer) that page's
// older versions are obsolete and may be purged.
type purgeRecord map[uint32]int64

func decodePurgeRecord(data []byte) purgeRecord {
	rec := make(purgeRecord)
	count, n, err := blockcodec.DecodeVarint64(data)
	if err != nil {
		return rec
	}
	data = data[n:]
	for i := uint64(0); i < count; i++ {
		if len(data) < 4 {
			break
		}
		index := blockcodec.DecodeFixed32(data)
		data = data[4:]
		version, n, err := blockcodec.DecodeVarsignedint64(data)
		if err != nil {
			break
		}
		data = data[n:]
		rec[index] = version
	}
	return rec
}

func encodePurgeRecord(rec purgeRecord) []byte {
	buf := blockcodec.AppendVarint64(nil, uint64(len(rec)))
	for index, version := range rec {
		buf = blockcodec.AppendFixed32(buf, index)
		buf = blockcodec.AppendVarsignedint64(buf, version)
	}
	return buf
}

// mergePurgeObsolete reads the path's purge record, sets threshold for
// every index in indices, and writes it back within tx. Called from xSync
// (§4.3 step b) for journalPages ∩ changedPages.
func mergePurgeObsolete(tx kvstore.Tx, path string, indices []uint32, threshold int64) error {
	if len(indices) == 0 {
		return nil
	}
	existing, ok, err := tx.Get(path, kvstore.PurgeIndex, kvstore.VersionZero)
	if err != nil {
		return err
	}
	var rec purgeRecord
	if ok {
		rec = decodePurgeRecord(existing.Data)
	} else {
		rec = make(purgeRecord)
	}
	for _, index := range indices {
		rec[index] = threshold
	}
	return tx.Put(kvstore.Record{
		Name:    path,
		Index:   kvstore.PurgeIndex,
		Version: kvstore.VersionZero,
		Data:    encodePurgeRecord(rec),
	})
}
