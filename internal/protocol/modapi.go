package protocol

import (
	"fmt"
	"sync"

	"github.com/mcdiamondfire/modapi/internal/protocol/schema"
)

// Names of the built-in registries.
const (
	NameModAPI = "modapi"
	NamePlugin = "plugin"
)

// ModAPI returns the registry of the ModAPI channel. It is built on first
// use; a duplicate in the table panics.
var ModAPI = sync.OnceValue(func() *Registry {
	b := NewBuilder()

	// Clientbound.

	// Server.
	b.MustRegister(schema.S2CServerInfo, "s2c_server_info")
	b.MustRegister(schema.S2CServerBooster, "s2c_server_booster")

	// Plot.
	b.MustRegister(schema.S2CPlotInfo, "s2c_plot_info")
	b.MustRegister(schema.S2CCodeTemplate, "s2c_code_template")
	b.MustRegister(schema.S2CPlaceTemplateResult, "s2c_place_template_result")

	// Player.
	b.MustRegister(schema.S2CPlayerCurrency, "s2c_player_currency")
	b.MustRegister(schema.S2CPlayerPermissions, "s2c_player_permissions")
	b.MustRegister(schema.S2CPlayerSwitchMode, "s2c_player_switch_mode")
	b.MustRegister(schema.S2CChestReference, "s2c_chest_reference")

	// Serverbound.

	// Plot.
	b.MustRegister(schema.C2SCodeOperation, "c2s_code_operation")
	b.MustRegister(schema.C2SMultiCodeOperations, "c2s_multi_code_operations")

	// Player.
	b.MustRegister(schema.C2SPlayerTeleport, "c2s_player_teleport")

	return b.Freeze()
})

// Plugin returns the registry of the older plugin message channel.
var Plugin = sync.OnceValue(func() *Registry {
	b := NewBuilder()

	// Server.
	b.MustRegister(schema.ServerInfo, "server_info")
	b.MustRegister(schema.ServerBooster, "server_booster")

	// Plot.
	b.MustRegister(schema.PlotInfo, "plot_info")

	// Player.
	b.MustRegister(schema.PlayerCurrency, "player_currency")
	b.MustRegister(schema.PlayerPermissions, "player_permissions")
	b.MustRegister(schema.PlayerSwitchMode, "player_switch_mode")

	return b.Freeze()
})

// ByName returns a built-in registry by name.
func ByName(name string) (*Registry, error) {
	switch name {
	case NameModAPI:
		return ModAPI(), nil
	case NamePlugin:
		return Plugin(), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", name)
	}
}
