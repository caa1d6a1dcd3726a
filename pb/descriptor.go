package pb

import (
	"sync"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

var (
	descOnce sync.Once
	desc     protoreflect.FileDescriptor
	descErr  error
)

// Descriptor returns the descriptor of messages.proto. It lets any protobuf
// runtime (dynamicpb, a reflection based printer) read the bytes produced
// by Marshal.
func Descriptor() (protoreflect.FileDescriptor, error) {
	descOnce.Do(func() {
		desc, descErr = protodesc.NewFile(fileDescriptorProto(), new(protoregistry.Files))
	})
	return desc, descErr
}

// String renders m in protobuf text format. The spacing of the output is
// not stable across runs.
func (m *AggregatedRecord) String() string {
	if m == nil {
		return "<nil>"
	}
	fd, err := Descriptor()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	msg := dynamicpb.NewMessage(fd.Messages().ByName("AggregatedRecord"))
	if err := (proto.UnmarshalOptions{AllowPartial: true}).Unmarshal(Marshal(m), msg); err != nil {
		return "<" + err.Error() + ">"
	}
	return prototext.Format(msg)
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	var (
		optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
		required = descriptorpb.FieldDescriptorProto_LABEL_REQUIRED.Enum()
		repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()

		tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()
		tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES.Enum()
		tUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64.Enum()
		tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
	)
	field := func(name string, num int32, label *descriptorpb.FieldDescriptorProto_Label, typ *descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(num),
			Label:  label,
			Type:   typ,
		}
	}
	message := func(name string, num int32, label *descriptorpb.FieldDescriptorProto_Label, typeName string) *descriptorpb.FieldDescriptorProto {
		f := field(name, num, label, tMessage)
		f.TypeName = proto.String(typeName)
		return f
	}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("messages.proto"),
		Package: proto.String("kpl"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("AggregatedRecord"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("partition_key_table", fieldPartitionKeyTable, repeated, tString),
					field("explicit_hash_key_table", fieldExplicitHashKeyTable, repeated, tString),
					message("records", fieldRecords, repeated, ".kpl.Record"),
				},
			},
			{
				Name: proto.String("Tag"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("key", fieldTagKey, required, tString),
					field("value", fieldTagValue, optional, tString),
				},
			},
			{
				Name: proto.String("Record"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("partition_key_index", fieldPartitionKeyIndex, required, tUint64),
					field("explicit_hash_key_index", fieldExplicitHashKeyIndex, optional, tUint64),
					field("data", fieldData, required, tBytes),
					message("tags", fieldTags, repeated, ".kpl.Tag"),
				},
			},
		},
	}
}
