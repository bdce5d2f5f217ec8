package schema

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

const fileName = "mcdiamondfire/modapi/modapi.proto"

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
)

func field(name string, number int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

// ref points a message or enum field at a type declared in this file.
func ref(f *descriptorpb.FieldDescriptorProto, typeName string) *descriptorpb.FieldDescriptorProto {
	f.TypeName = proto.String("." + Package + "." + typeName)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name:  proto.String(name),
		Field: fields,
	}
}

func enum(name string, values ...string) *descriptorpb.EnumDescriptorProto {
	ed := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for i, v := range values {
		ed.Value = append(ed.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v),
			Number: proto.Int32(int32(i)),
		})
	}
	return ed
}

// fileProto declares modapi.proto. Field numbers are part of the binary
// contract and must never be reused.
func fileProto() *descriptorpb.FileDescriptorProto {
	serverInfo := func(name string) *descriptorpb.DescriptorProto {
		return message(name,
			field("name", 1, tString),
			field("player_count", 2, tInt32),
		)
	}
	serverBooster := func(name string) *descriptorpb.DescriptorProto {
		return message(name,
			field("owner", 1, tString),
			field("multiplier", 2, tInt32),
			field("expires_at", 3, tInt64),
		)
	}
	plotInfo := func(name string) *descriptorpb.DescriptorProto {
		return message(name,
			field("plot_id", 1, tInt32),
			field("name", 2, tString),
			field("owner", 3, tString),
			repeated(field("whitelist", 4, tString)),
		)
	}
	playerCurrency := func(name string) *descriptorpb.DescriptorProto {
		return message(name,
			field("balance", 1, tInt32),
			field("tokens", 2, tInt32),
		)
	}
	playerPermissions := func(name string) *descriptorpb.DescriptorProto {
		return message(name,
			repeated(field("ranks", 1, tString)),
			field("developer", 2, tBool),
		)
	}
	playerSwitchMode := func(name string) *descriptorpb.DescriptorProto {
		return message(name,
			ref(field("mode", 1, tEnum), "PlayerMode"),
		)
	}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(fileName),
		Package: proto.String(Package),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{
			enum("PlayerMode",
				"PLAYER_MODE_UNSPECIFIED",
				"PLAYER_MODE_PLAY",
				"PLAYER_MODE_BUILD",
				"PLAYER_MODE_CODE",
				"PLAYER_MODE_SPECTATE",
			),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			message("Location",
				field("x", 1, tDouble),
				field("y", 2, tDouble),
				field("z", 3, tDouble),
				field("pitch", 4, tFloat),
				field("yaw", 5, tFloat),
			),

			serverInfo("ServerInfo"),
			serverBooster("ServerBooster"),
			plotInfo("PlotInfo"),
			playerCurrency("PlayerCurrency"),
			playerPermissions("PlayerPermissions"),
			playerSwitchMode("PlayerSwitchMode"),

			serverInfo("S2CServerInfo"),
			serverBooster("S2CServerBooster"),
			plotInfo("S2CPlotInfo"),
			message("S2CCodeTemplate",
				field("name", 1, tString),
				field("template_data", 2, tString),
			),
			message("S2CPlaceTemplateResult",
				field("success", 1, tBool),
				field("error", 2, tString),
			),
			playerCurrency("S2CPlayerCurrency"),
			playerPermissions("S2CPlayerPermissions"),
			playerSwitchMode("S2CPlayerSwitchMode"),
			message("S2CChestReference",
				ref(field("location", 1, tMessage), "Location"),
				field("name", 2, tString),
			),

			message("C2SCodeOperation",
				field("template_data", 1, tString),
				ref(field("location", 2, tMessage), "Location"),
			),
			message("C2SMultiCodeOperations",
				ref(repeated(field("operations", 1, tMessage)), "C2SCodeOperation"),
			),
			message("C2SPlayerTeleport",
				ref(field("location", 1, tMessage), "Location"),
			),
		},
	}
}
