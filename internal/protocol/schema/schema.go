// Package schema holds the ModAPI message definitions.
//
// The messages are declared as a protobuf file descriptor and materialized
// with dynamicpb, so the rest of the module works purely in terms of
// proto.Message and protoreflect.MessageType. Generated types can be used
// alongside these without changes to the registry or codec.
package schema

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Package is the protobuf package of every ModAPI message.
const Package = "mcdiamondfire.modapi"

// File is the compiled modapi.proto descriptor.
var File protoreflect.FileDescriptor

// Types resolves every message and enum declared in File.
var Types = new(protoregistry.Types)

// Shared.
var (
	Location   protoreflect.MessageType
	PlayerMode protoreflect.EnumType
)

// Legacy plugin channel messages.
var (
	ServerInfo        protoreflect.MessageType
	ServerBooster     protoreflect.MessageType
	PlotInfo          protoreflect.MessageType
	PlayerCurrency    protoreflect.MessageType
	PlayerPermissions protoreflect.MessageType
	PlayerSwitchMode  protoreflect.MessageType
)

// ModAPI clientbound messages.
var (
	S2CServerInfo          protoreflect.MessageType
	S2CServerBooster       protoreflect.MessageType
	S2CPlotInfo            protoreflect.MessageType
	S2CCodeTemplate        protoreflect.MessageType
	S2CPlaceTemplateResult protoreflect.MessageType
	S2CPlayerCurrency      protoreflect.MessageType
	S2CPlayerPermissions   protoreflect.MessageType
	S2CPlayerSwitchMode    protoreflect.MessageType
	S2CChestReference      protoreflect.MessageType
)

// ModAPI serverbound messages.
var (
	C2SCodeOperation       protoreflect.MessageType
	C2SMultiCodeOperations protoreflect.MessageType
	C2SPlayerTeleport      protoreflect.MessageType
)

func init() {
	fd, err := protodesc.NewFile(fileProto(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("schema: compile %s: %v", fileName, err))
	}
	File = fd

	enums := fd.Enums()
	for i := 0; i < enums.Len(); i++ {
		if err := Types.RegisterEnum(dynamicpb.NewEnumType(enums.Get(i))); err != nil {
			panic(fmt.Sprintf("schema: register enum: %v", err))
		}
	}
	msgs := fd.Messages()
	for i := 0; i < msgs.Len(); i++ {
		if err := Types.RegisterMessage(dynamicpb.NewMessageType(msgs.Get(i))); err != nil {
			panic(fmt.Sprintf("schema: register message: %v", err))
		}
	}

	Location = mustMessage("Location")
	PlayerMode = mustEnum("PlayerMode")

	ServerInfo = mustMessage("ServerInfo")
	ServerBooster = mustMessage("ServerBooster")
	PlotInfo = mustMessage("PlotInfo")
	PlayerCurrency = mustMessage("PlayerCurrency")
	PlayerPermissions = mustMessage("PlayerPermissions")
	PlayerSwitchMode = mustMessage("PlayerSwitchMode")

	S2CServerInfo = mustMessage("S2CServerInfo")
	S2CServerBooster = mustMessage("S2CServerBooster")
	S2CPlotInfo = mustMessage("S2CPlotInfo")
	S2CCodeTemplate = mustMessage("S2CCodeTemplate")
	S2CPlaceTemplateResult = mustMessage("S2CPlaceTemplateResult")
	S2CPlayerCurrency = mustMessage("S2CPlayerCurrency")
	S2CPlayerPermissions = mustMessage("S2CPlayerPermissions")
	S2CPlayerSwitchMode = mustMessage("S2CPlayerSwitchMode")
	S2CChestReference = mustMessage("S2CChestReference")

	C2SCodeOperation = mustMessage("C2SCodeOperation")
	C2SMultiCodeOperations = mustMessage("C2SMultiCodeOperations")
	C2SPlayerTeleport = mustMessage("C2SPlayerTeleport")
}

// FullName returns the fully qualified name of a ModAPI message.
func FullName(name string) protoreflect.FullName {
	return protoreflect.FullName(Package + "." + name)
}

func mustMessage(name string) protoreflect.MessageType {
	mt, err := Types.FindMessageByName(FullName(name))
	if err != nil {
		panic(fmt.Sprintf("schema: message %s: %v", name, err))
	}
	return mt
}

func mustEnum(name string) protoreflect.EnumType {
	et, err := Types.FindEnumByName(FullName(name))
	if err != nil {
		panic(fmt.Sprintf("schema: enum %s: %v", name, err))
	}
	return et
}

// FromJSON builds a message of type mt from its canonical JSON form.
// Unknown fields are rejected.
func FromJSON(mt protoreflect.MessageType, text string) (proto.Message, error) {
	m := mt.New().Interface()
	if err := protojson.Unmarshal([]byte(text), m); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", mt.Descriptor().FullName(), err)
	}
	return m, nil
}

// Get returns the value of the field with the given proto name. It returns
// an invalid Value if the message has no such field.
func Get(m proto.Message, field string) protoreflect.Value {
	rm := m.ProtoReflect()
	fd := rm.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		return protoreflect.Value{}
	}
	return rm.Get(fd)
}

// Set assigns v to the field with the given proto name.
func Set(m proto.Message, field string, v protoreflect.Value) error {
	rm := m.ProtoReflect()
	fd := rm.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		return fmt.Errorf("schema: %s has no field %q", rm.Descriptor().FullName(), field)
	}
	rm.Set(fd, v)
	return nil
}
