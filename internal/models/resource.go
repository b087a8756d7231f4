package models

import "time"

type LabelValue struct {
	ID       string `json:"id,omitempty"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	Category string `json:"category,omitempty"`
}

type Resource struct {
	ID             string       `json:"id"`
	Name           string       `json:"name" validate:"required"`
	Status         string       `json:"status,omitempty" validate:"omitempty,oneof=healthy warning critical offline unknown"`
	Type           string       `json:"type,omitempty"`
	IPAddress      string       `json:"ip_address,omitempty" validate:"omitempty,ip"`
	Location       string       `json:"location,omitempty"`
	Environment    string       `json:"environment,omitempty"`
	Team           string       `json:"team,omitempty"`
	OS             string       `json:"os,omitempty"`
	CPUUsage       float64      `json:"cpu_usage,omitempty" validate:"gte=0,lte=100"`
	MemoryUsage    float64      `json:"memory_usage,omitempty" validate:"gte=0,lte=100"`
	DiskUsage      float64      `json:"disk_usage,omitempty" validate:"gte=0,lte=100"`
	NetworkInMbps  float64      `json:"network_in_mbps,omitempty"`
	NetworkOutMbps float64      `json:"network_out_mbps,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	LabelValues    []LabelValue `json:"label_values,omitempty"`
	GroupIDs       []string     `json:"group_ids,omitempty"`
	LastEventCount int          `json:"last_event_count,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type StatusSummary struct {
	Healthy  int `json:"healthy"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

type ResourceGroup struct {
	ID              string         `json:"id"`
	Name            string         `json:"name" validate:"required"`
	Description     string         `json:"description,omitempty"`
	Owner           *Actor         `json:"owner,omitempty"`
	OwnerTeam       string         `json:"owner_team,omitempty"`
	MemberCount     int            `json:"member_count,omitempty"`
	SubscriberCount int            `json:"subscriber_count,omitempty"`
	StatusSummary   *StatusSummary `json:"status_summary,omitempty"`
	ResourceIDs     []string       `json:"resource_ids,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type TopologyNode struct {
	ID          string `json:"id" validate:"required"`
	ResourceID  string `json:"resource_id,omitempty"`
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Status      string `json:"status,omitempty"`
	Environment string `json:"environment,omitempty"`
	Team        string `json:"team,omitempty"`
}

type TopologyEdge struct {
	ID             string  `json:"id,omitempty"`
	SourceID       string  `json:"source_id" validate:"required"`
	TargetID       string  `json:"target_id" validate:"required"`
	ConnectionType string  `json:"connection_type,omitempty"`
	LatencyMs      float64 `json:"latency_ms,omitempty"`
	ThroughputMbps float64 `json:"throughput_mbps,omitempty"`
}

type Topology struct {
	ID           string         `json:"id"`
	Name         string         `json:"name" validate:"required"`
	Description  string         `json:"description,omitempty"`
	Layout       string         `json:"layout,omitempty"`
	Nodes        []TopologyNode `json:"nodes,omitempty" validate:"dive"`
	Edges        []TopologyEdge `json:"edges,omitempty" validate:"dive"`
	LastSyncedAt *time.Time     `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DanglingEdges returns the edges whose endpoints are not nodes of t.
func (t Topology) DanglingEdges() []TopologyEdge {
	nodes := make(map[string]struct{}, len(t.Nodes))
	for _, n := range t.Nodes {
		nodes[n.ID] = struct{}{}
	}
	var out []TopologyEdge
	for _, e := range t.Edges {
		_, src := nodes[e.SourceID]
		_, dst := nodes[e.TargetID]
		if !src || !dst {
			out = append(out, e)
		}
	}
	return out
}
