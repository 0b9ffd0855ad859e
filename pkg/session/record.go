package session

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Record is what survives a restart: the credential and who it belongs to.
type Record struct {
	Credential string
	UserID     int
	Username   string
	SavedAt    time.Time
}

const (
	fieldCredential protowire.Number = 1
	fieldUserID     protowire.Number = 2
	fieldUsername   protowire.Number = 3
	fieldSavedAt    protowire.Number = 4
)

// MarshalBinary encodes r in protobuf wire format.
func (r Record) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldCredential, protowire.BytesType)
	b = protowire.AppendString(b, r.Credential)
	b = protowire.AppendTag(b, fieldUserID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.UserID))
	b = protowire.AppendTag(b, fieldUsername, protowire.BytesType)
	b = protowire.AppendString(b, r.Username)
	b = protowire.AppendTag(b, fieldSavedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.SavedAt.UnixMilli()))
	return b, nil
}

// UnmarshalBinary decodes r. Unknown fields are skipped.
func (r *Record) UnmarshalBinary(b []byte) error {
	*r = Record{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("record tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldCredential && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("record credential: %w", protowire.ParseError(n))
			}
			r.Credential = v
			b = b[n:]
		case num == fieldUsername && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("record username: %w", protowire.ParseError(n))
			}
			r.Username = v
			b = b[n:]
		case num == fieldUserID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("record user id: %w", protowire.ParseError(n))
			}
			r.UserID = int(v)
			b = b[n:]
		case num == fieldSavedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("record saved at: %w", protowire.ParseError(n))
			}
			r.SavedAt = time.UnixMilli(int64(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if r.Credential == "" {
		return errors.New("record has no credential")
	}
	return nil
}
