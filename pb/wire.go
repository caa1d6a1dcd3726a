package pb

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// StringFieldSize returns the number of bytes a key table entry adds to an
// AggregatedRecord. Both key tables use single byte field tags.
func StringFieldSize(val string) int {
	return protowire.SizeTag(fieldPartitionKeyTable) + protowire.SizeBytes(len(val))
}

// RecordFieldSize returns the number of bytes r adds to an AggregatedRecord,
// including the field tag and length prefix of the embedded message.
func RecordFieldSize(r *Record) int {
	return protowire.SizeTag(fieldRecords) + protowire.SizeBytes(r.Size())
}

// Size returns the encoded size of the tag message.
func (m *Tag) Size() (size int) {
	size += protowire.SizeTag(fieldTagKey) + protowire.SizeBytes(len(m.Key))
	if m.Value != nil {
		size += protowire.SizeTag(fieldTagValue) + protowire.SizeBytes(len(*m.Value))
	}
	return
}

// Size returns the encoded size of the record message, without the framing
// used when it is embedded in an AggregatedRecord.
func (m *Record) Size() (size int) {
	size += protowire.SizeTag(fieldPartitionKeyIndex) + protowire.SizeVarint(m.PartitionKeyIndex)
	if m.ExplicitHashKeyIndex != nil {
		size += protowire.SizeTag(fieldExplicitHashKeyIndex) + protowire.SizeVarint(*m.ExplicitHashKeyIndex)
	}
	size += protowire.SizeTag(fieldData) + protowire.SizeBytes(len(m.Data))
	for _, t := range m.Tags {
		size += protowire.SizeTag(fieldTags) + protowire.SizeBytes(t.Size())
	}
	return
}

// Size returns the encoded size of the message.
func (m *AggregatedRecord) Size() (size int) {
	for _, k := range m.PartitionKeyTable {
		size += StringFieldSize(k)
	}
	for _, k := range m.ExplicitHashKeyTable {
		size += StringFieldSize(k)
	}
	for _, r := range m.Records {
		size += RecordFieldSize(r)
	}
	return
}

// Marshal encodes m.
func Marshal(m *AggregatedRecord) []byte {
	return AppendMarshal(make([]byte, 0, m.Size()), m)
}

// AppendMarshal appends the encoding of m to b.
func AppendMarshal(b []byte, m *AggregatedRecord) []byte {
	for _, k := range m.PartitionKeyTable {
		b = protowire.AppendTag(b, fieldPartitionKeyTable, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, k := range m.ExplicitHashKeyTable {
		b = protowire.AppendTag(b, fieldExplicitHashKeyTable, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, r := range m.Records {
		b = protowire.AppendTag(b, fieldRecords, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(r.Size()))
		b = r.appendTo(b)
	}
	return b
}

func (m *Record) appendTo(b []byte) []byte {
	b = protowire.AppendTag(b, fieldPartitionKeyIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, m.PartitionKeyIndex)
	if m.ExplicitHashKeyIndex != nil {
		b = protowire.AppendTag(b, fieldExplicitHashKeyIndex, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.ExplicitHashKeyIndex)
	}
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	for _, t := range m.Tags {
		b = protowire.AppendTag(b, fieldTags, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(t.Size()))
		b = t.appendTo(b)
	}
	return b
}

func (m *Tag) appendTo(b []byte) []byte {
	b = protowire.AppendTag(b, fieldTagKey, protowire.BytesType)
	b = protowire.AppendString(b, m.Key)
	if m.Value != nil {
		b = protowire.AppendTag(b, fieldTagValue, protowire.BytesType)
		b = protowire.AppendString(b, *m.Value)
	}
	return b
}

// Unmarshal decodes b into m. Repeated fields are appended to, so m should
// be empty. Unknown fields are skipped. Byte fields of the result never
// alias b.
func Unmarshal(b []byte, m *AggregatedRecord) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "aggregated record")
		}
		b = b[n:]
		switch num {
		case fieldPartitionKeyTable, fieldExplicitHashKeyTable:
			if typ != protowire.BytesType {
				return wireTypeError("aggregated record", num, typ)
			}
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "aggregated record: key table field %d", num)
			}
			if num == fieldPartitionKeyTable {
				m.PartitionKeyTable = append(m.PartitionKeyTable, v)
			} else {
				m.ExplicitHashKeyTable = append(m.ExplicitHashKeyTable, v)
			}
			b = b[n:]
		case fieldRecords:
			if typ != protowire.BytesType {
				return wireTypeError("aggregated record", num, typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "aggregated record: record %d", len(m.Records))
			}
			r := new(Record)
			if err := r.unmarshal(v); err != nil {
				return errors.Wrapf(err, "aggregated record: record %d", len(m.Records))
			}
			m.Records = append(m.Records, r)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "aggregated record: field %d", num)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *Record) unmarshal(b []byte) error {
	var hasIndex, hasData bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldPartitionKeyIndex, fieldExplicitHashKeyIndex:
			if typ != protowire.VarintType {
				return wireTypeError("record", num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "field %d", num)
			}
			if num == fieldPartitionKeyIndex {
				m.PartitionKeyIndex = v
				hasIndex = true
			} else {
				m.ExplicitHashKeyIndex = &v
			}
			b = b[n:]
		case fieldData:
			if typ != protowire.BytesType {
				return wireTypeError("record", num, typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "data")
			}
			m.Data = make([]byte, len(v))
			copy(m.Data, v)
			hasData = true
			b = b[n:]
		case fieldTags:
			if typ != protowire.BytesType {
				return wireTypeError("record", num, typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "tag %d", len(m.Tags))
			}
			t := new(Tag)
			if err := t.unmarshal(v); err != nil {
				return errors.Wrapf(err, "tag %d", len(m.Tags))
			}
			m.Tags = append(m.Tags, t)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "field %d", num)
			}
			b = b[n:]
		}
	}
	if !hasIndex {
		return errors.New("missing required field partition_key_index")
	}
	if !hasData {
		return errors.New("missing required field data")
	}
	return nil
}

func (m *Tag) unmarshal(b []byte) error {
	var hasKey bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldTagKey, fieldTagValue:
			if typ != protowire.BytesType {
				return wireTypeError("tag", num, typ)
			}
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "field %d", num)
			}
			if num == fieldTagKey {
				m.Key = v
				hasKey = true
			} else {
				m.Value = &v
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "field %d", num)
			}
			b = b[n:]
		}
	}
	if !hasKey {
		return errors.New("missing required field key")
	}
	return nil
}

func wireTypeError(msg string, num protowire.Number, typ protowire.Type) error {
	return errors.Errorf("%s: field %d has unexpected wire type %d", msg, num, typ)
}
