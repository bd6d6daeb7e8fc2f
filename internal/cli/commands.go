// Package cli implements the interactive operator console: room and
// player listings, the server-wide ban commands, and shutdown.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/events"
	"github.com/relaygate-project/relaygate/internal/protocol"
	"github.com/relaygate-project/relaygate/internal/relay"
	"github.com/relaygate-project/relaygate/internal/util"
)

// CLI provides the interactive operator console.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	server   *relay.Server
	bans     *abuse.BanList
}

// NewCLI creates a new console handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, server *relay.Server, bans *abuse.BanList) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		server:   server,
		bans:     bans,
	}
}

// Start begins the interactive loop. It returns when stdin closes or the
// context is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nRelaygate console ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("relaygate> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single console command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "rooms", "r":
		c.printRooms()
	case "players", "p":
		return c.cmdPlayers(args)
	case "say":
		return c.cmdSay(args)
	case "allmute":
		return c.cmdAllMute(args)
	case "destroy":
		return c.cmdDestroy(args)
	case "banrelay":
		return c.cmdBanRelay(ctx, args)
	case "banip":
		return c.cmdBanIP(ctx, args)
	case "unbanip", "unbanrelay":
		return c.cmdUnbanIP(ctx, args)
	case "bans":
		c.printBans()
	case "status", "s":
		c.printStatus()
	case "quit", "exit", "q":
		fmt.Println("Shutting down Relaygate...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                   Relaygate Console Commands                 ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  rooms              List all live rooms                     ║")
	fmt.Println("║  players [room]     List room admins, or one room's seats   ║")
	fmt.Println("║  say <room> <msg>   Send a relay message into a room        ║")
	fmt.Println("║  allmute <room>     Toggle all-mute for a room              ║")
	fmt.Println("║  destroy <room>     Force-close a room                      ║")
	fmt.Println("║  banrelay <room>    Ban the room admin's /24 and close it   ║")
	fmt.Println("║  banip <ip>         Ban the /24 block containing ip         ║")
	fmt.Println("║  unbanip <ip>       Lift the ban on that /24 block          ║")
	fmt.Println("║  bans               List banned blocks                      ║")
	fmt.Println("║  status             Show relay and host statistics          ║")
	fmt.Println("║  quit               Shutdown Relaygate                      ║")
	fmt.Println("║  help               Show this help message                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printRooms renders every live room as a table row.
func (c *CLI) printRooms() {
	rooms := c.server.Rooms.Rooms()

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Room ID", "Members", "Started", "Mod", "Admin", "Age"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, room := range rooms {
		admin := "-"
		if a := room.Admin(); a != nil {
			admin = a.RemoteAddr()
		}
		tw.Append([]string{
			room.ID,
			fmt.Sprintf("%d", room.Len()),
			fmt.Sprintf("%v", room.Started()),
			fmt.Sprintf("%v", room.IsMod),
			admin,
			time.Since(room.CreatedAt).Round(time.Second).String(),
		})
	}

	tw.Render()
	fmt.Printf("%d rooms\n\n", len(rooms))
}

// cmdPlayers without arguments lists every room's admin address; with a
// room id it prints that room's full seat table.
func (c *CLI) cmdPlayers(args []string) error {
	if len(args) == 0 {
		c.printAdmins()
		return nil
	}
	room, err := c.roomArg(args)
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Site", "Name", "Player ID", "Remote", "Admin"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, m := range room.Members() {
		tw.Append([]string{
			fmt.Sprintf("%d", m.Site()),
			m.Name(),
			m.PlayerID(),
			m.RemoteAddr(),
			fmt.Sprintf("%v", room.IsAdmin(m)),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) printAdmins() {
	rooms := c.server.Rooms.Rooms()
	if len(rooms) == 0 {
		fmt.Println("No players connected.")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Room", "Admin", "Members"})
	tw.SetBorder(true)

	for _, r := range rooms {
		adminAddr := "-"
		if admin := r.Admin(); admin != nil {
			adminAddr = admin.RemoteAddr()
		}
		tw.Append([]string{
			c.cfg.GetRelayData().RoomIDPrefix + r.ID,
			adminAddr,
			fmt.Sprintf("%d", r.Len()),
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdSay(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: say <room> <message>")
	}
	room, err := c.roomArg(args[:1])
	if err != nil {
		return err
	}

	msg := strings.Join(args[1:], " ")
	room.Broadcast(protocol.SystemMessage(msg))
	fmt.Printf("Message sent to room %s\n", room.ID)
	return nil
}

func (c *CLI) cmdAllMute(args []string) error {
	room, err := c.roomArg(args)
	if err != nil {
		return err
	}

	muted := !room.AllMute()
	room.SetAllMute(muted)
	fmt.Printf("Room %s all-mute: %v\n", room.ID, muted)
	return nil
}

func (c *CLI) cmdDestroy(args []string) error {
	room, err := c.roomArg(args)
	if err != nil {
		return err
	}

	c.server.DisconnectRoom(room)
	fmt.Printf("Room %s destroyed\n", room.ID)
	return nil
}

// cmdBanRelay bans the room admin's /24 block and tears the room down.
func (c *CLI) cmdBanRelay(ctx context.Context, args []string) error {
	room, err := c.roomArg(args)
	if err != nil {
		return err
	}

	admin := room.Admin()
	if admin == nil {
		c.server.DisconnectRoom(room)
		return fmt.Errorf("room %s has no admin; destroyed without ban", room.ID)
	}

	host, _, splitErr := net.SplitHostPort(admin.RemoteAddr())
	if splitErr != nil {
		host = admin.RemoteAddr()
	}
	block := c.bans.Add(host)
	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventIPBanned,
		Source:  "cli",
		Payload: events.BanPayload{Block: block},
	})

	c.server.DisconnectRoom(room)
	fmt.Printf("Room %s destroyed, banned block %s\n", room.ID, block)
	return nil
}

func (c *CLI) cmdBanIP(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: banip <ip>")
	}

	block := c.bans.Add(args[0])
	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventIPBanned,
		Source:  "cli",
		Payload: events.BanPayload{Block: block},
	})
	fmt.Printf("Banned block %s\n", block)
	return nil
}

func (c *CLI) cmdUnbanIP(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: unbanip <ip>")
	}

	if !c.bans.Remove(args[0]) {
		return fmt.Errorf("no ban covering %s", args[0])
	}
	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventIPUnbanned,
		Source:  "cli",
		Payload: events.BanPayload{Block: abuse.IPBlock24(args[0])},
	})
	fmt.Printf("Unbanned %s\n", args[0])
	return nil
}

// printBans lists the banned /24 blocks.
func (c *CLI) printBans() {
	blocks := c.bans.Blocks()
	if len(blocks) == 0 {
		fmt.Println("No banned blocks")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Banned Block"})
	tw.SetBorder(true)
	for _, b := range blocks {
		tw.Append([]string{b})
	}
	tw.Render()
	fmt.Println()
}

// printStatus shows relay counters and host statistics.
func (c *CLI) printStatus() {
	rooms := c.server.Rooms.Rooms()
	members := 0
	started := 0
	for _, r := range rooms {
		members += r.Len()
		if r.Started() {
			started++
		}
	}

	fmt.Printf("\n  Rooms:        %d (%d in game)\n", len(rooms), started)
	fmt.Printf("  Connections:  %d\n", members)
	fmt.Printf("  Banned:       %d blocks\n", c.bans.Len())

	info := util.GetSystemInfo()
	fmt.Printf("  Host:         %s (%s, %d cores)\n", info.Hostname, info.OS, info.CPUCores)
	if ip, err := util.GetLocalIP(); err == nil {
		fmt.Printf("  Local IP:     %s\n", ip)
	}
	if cpuPct, err := util.GetCPUUsage(); err == nil {
		fmt.Printf("  CPU:          %.1f%%\n", cpuPct)
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		fmt.Printf("  Memory:       %d/%d MB\n", mem.Used, mem.Total)
	}
	fmt.Println()
}

// roomArg resolves the first argument to a live room, accepting the id
// with or without the public prefix.
func (c *CLI) roomArg(args []string) (*relay.Room, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("room id required")
	}

	id := args[0]
	prefix := c.cfg.GetRelayData().RoomIDPrefix
	if prefix != "" {
		id = strings.TrimPrefix(id, prefix)
	}

	room, ok := c.server.Rooms.Get(id)
	if !ok {
		return nil, fmt.Errorf("no such room: %s", args[0])
	}
	return room, nil
}
