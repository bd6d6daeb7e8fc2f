package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/events"
	"github.com/relaygate-project/relaygate/internal/relay"
	"github.com/relaygate-project/relaygate/internal/util"
)

// roomSummary is the JSON shape of one room in list responses.
type roomSummary struct {
	ID        string    `json:"id"`
	PublicID  string    `json:"public_id"`
	Members   int       `json:"members"`
	Started   bool      `json:"started"`
	IsMod     bool      `json:"is_mod"`
	CreatedAt time.Time `json:"created_at"`
}

// memberSummary is the JSON shape of one room member.
type memberSummary struct {
	Site     int32  `json:"site"`
	Name     string `json:"name"`
	PlayerID string `json:"player_id"`
	Remote   string `json:"remote"`
	IsAdmin  bool   `json:"is_admin"`
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "relaygate",
		"version": s.relay.Version,
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()
	rooms := s.relay.Rooms.Rooms()
	members := 0
	for _, r := range rooms {
		members += r.Len()
	}

	c.JSON(http.StatusOK, gin.H{
		"version":         s.relay.Version,
		"rooms":           len(rooms),
		"connections":     members,
		"platform":        sysInfo.Platform,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}

func (s *Server) handleListRooms(c *gin.Context) {
	prefix := s.cfg.GetRelayData().RoomIDPrefix
	rooms := s.relay.Rooms.Rooms()

	out := make([]roomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomSummary{
			ID:        r.ID,
			PublicID:  prefix + r.ID,
			Members:   r.Len(),
			Started:   r.Started(),
			IsMod:     r.IsMod,
			CreatedAt: r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (s *Server) handleGetRoom(c *gin.Context) {
	room, ok := s.lookupRoom(c)
	if !ok {
		return
	}

	members := make([]memberSummary, 0, room.Len())
	for _, m := range room.Members() {
		members = append(members, memberSummary{
			Site:     m.Site(),
			Name:     m.Name(),
			PlayerID: m.PlayerID(),
			Remote:   m.RemoteAddr(),
			IsAdmin:  room.IsAdmin(m),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         room.ID,
		"started":    room.Started(),
		"is_mod":     room.IsMod,
		"all_mute":   room.AllMute(),
		"created_at": room.CreatedAt,
		"members":    members,
	})
}

func (s *Server) handleDestroyRoom(c *gin.Context) {
	room, ok := s.lookupRoom(c)
	if !ok {
		return
	}

	s.relay.DisconnectRoom(room)
	c.JSON(http.StatusOK, gin.H{"destroyed": room.ID})
}

func (s *Server) handleListBans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"blocks": s.bans.Blocks()})
}

func (s *Server) handleAddBan(c *gin.Context) {
	var req struct {
		IP string `json:"ip" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip field required"})
		return
	}

	block := s.bans.Add(req.IP)
	s.eventBus.Emit(context.Background(), events.Event{
		Type:    events.EventIPBanned,
		Source:  "api",
		Payload: events.BanPayload{Block: block},
	})
	c.JSON(http.StatusOK, gin.H{"banned": block})
}

func (s *Server) handleRemoveBan(c *gin.Context) {
	ip := c.Param("ip")
	if !s.bans.Remove(ip) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ban covering " + ip})
		return
	}

	s.eventBus.Emit(context.Background(), events.Event{
		Type:    events.EventIPUnbanned,
		Source:  "api",
		Payload: events.BanPayload{Block: abuse.IPBlock24(ip)},
	})
	c.JSON(http.StatusOK, gin.H{"unbanned": abuse.IPBlock24(ip)})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.roomLog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room history disabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	records, err := s.roomLog.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleStats(c *gin.Context) {
	stats := gin.H{
		"rooms":  s.relay.Rooms.Count(),
		"banned": s.bans.Len(),
	}
	if cpuPct, err := util.GetCPUUsage(); err == nil {
		stats["cpu_percent"] = cpuPct
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		stats["memory_used_mb"] = mem.Used
		stats["memory_total_mb"] = mem.Total
	}
	c.JSON(http.StatusOK, stats)
}

// lookupRoom resolves the :id path parameter, accepting the id with or
// without the public prefix. Writes the 404 itself on a miss.
func (s *Server) lookupRoom(c *gin.Context) (*relay.Room, bool) {
	id := c.Param("id")
	prefix := s.cfg.GetRelayData().RoomIDPrefix

	room, ok := s.relay.Rooms.Get(id)
	if !ok && prefix != "" && len(id) > len(prefix) && id[:len(prefix)] == prefix {
		room, ok = s.relay.Rooms.Get(id[len(prefix):])
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such room: " + id})
		return nil, false
	}
	return room, true
}
