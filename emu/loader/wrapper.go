package loader

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/cellcore/ps3core/emu/keydb"
)

var wrapperMagic = [4]byte{'S', 'C', 'E', 0}

const wrapperHeaderSize = 32

// keyType numbers the wrapper header's key-type field, independent of the
// key database's own string-keyed KeyType so that the on-disk format and
// the config format can evolve separately.
const (
	keyTypeNone = iota
	keyTypeRetail
	keyTypeDebug
	keyTypeApp
)

type wrapperHeader struct {
	version        uint32
	keyType        uint16
	headerType     uint16
	metadataOffset uint32
	headerLength   uint64
	dataLength     uint64
}

// unwrap strips the signed-executable wrapper if present, decrypting its
// payload against the key database when the header calls for it, and
// returns the inner segmented-object bytes (spec.md §4.B).
func (l *Loader) unwrap(raw []byte) ([]byte, error) {
	if len(raw) < wrapperHeaderSize || !bytes.Equal(raw[:4], wrapperMagic[:]) {
		return raw, nil
	}

	var h wrapperHeader
	h.version = binary.BigEndian.Uint32(raw[4:8])
	h.keyType = binary.BigEndian.Uint16(raw[8:10])
	h.headerType = binary.BigEndian.Uint16(raw[10:12])
	h.metadataOffset = binary.BigEndian.Uint32(raw[12:16])
	h.headerLength = binary.BigEndian.Uint64(raw[16:24])
	h.dataLength = binary.BigEndian.Uint64(raw[24:32])

	start := wrapperHeaderSize + int(h.headerLength)
	end := start + int(h.dataLength)
	if start < 0 || end > len(raw) || end < start {
		return nil, fmt.Errorf("%w: wrapper length out of range", ErrObjectFormat)
	}
	payload := raw[start:end]

	if h.keyType == keyTypeNone {
		return payload, nil
	}

	kt, err := keyTypeToDBType(h.keyType)
	if err != nil {
		return nil, err
	}
	key, ok := l.keys.Lookup(kt)
	if !ok {
		return nil, fmt.Errorf("%w: no %s key registered", ErrMissingKey, kt)
	}

	return decryptCBC(key.Key[:], key.IV, payload)
}

func keyTypeToDBType(kt uint16) (keydb.KeyType, error) {
	switch kt {
	case keyTypeRetail:
		return keydb.Retail, nil
	case keyTypeDebug:
		return keydb.Debug, nil
	case keyTypeApp:
		return keydb.App, nil
	default:
		return "", fmt.Errorf("%w: unknown key type %d", ErrObjectFormat, kt)
	}
}

// decryptCBC decrypts ciphertext into a new buffer with AES-128-CBC and
// strips PKCS#7 padding. An all-zero IV is used when the key database entry carries none.
func decryptCBC(key []byte, iv [16]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return ciphertext, nil
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: encrypted payload not block aligned", ErrObjectFormat)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObjectFormat, err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, ciphertext)

	pad := int(out[len(out)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, fmt.Errorf("%w: invalid padding in decrypted payload", ErrObjectFormat)
	}
	return out[:len(out)-pad], nil
}
