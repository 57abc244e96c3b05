package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"foodledger/internal/model"
)

// Key layout shared by the key-value backends:
//
//	"m"             -> model.Meta
//	"f" + uint64 BE -> model.Food
var metaKey = []byte("m")

const foodPrefix = 'f'

func foodKey(id uint64) []byte {
	k := make([]byte, 9)
	k[0] = foodPrefix
	binary.BigEndian.PutUint64(k[1:], id)
	return k
}

func isFoodKey(k []byte) bool {
	return len(k) == 9 && k[0] == foodPrefix
}

// foodKeyUpperBound is the first key after every food key.
var foodKeyUpperBound = []byte{foodPrefix + 1}

func encodeFood(f model.Food) ([]byte, error) { return json.Marshal(f) }

func decodeFood(val []byte) (model.Food, error) {
	var f model.Food
	if err := json.Unmarshal(val, &f); err != nil {
		return model.Food{}, fmt.Errorf("decode food: %w", err)
	}
	return f, nil
}

func encodeMeta(m model.Meta) ([]byte, error) { return json.Marshal(m) }

func decodeMeta(val []byte) (model.Meta, error) {
	var m model.Meta
	if err := json.Unmarshal(val, &m); err != nil {
		return model.Meta{}, fmt.Errorf("decode meta: %w", err)
	}
	return m, nil
}
