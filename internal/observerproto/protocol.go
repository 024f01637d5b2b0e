package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to
// change the area filter. An empty filter means every area.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Areas           [][3]int `json:"areas,omitempty"`
}

// Client -> Server. Asks for one Y layer of one area; answered with a LayerMsg.
type LayerReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Area            [3]int `json:"area"`
	Y               int    `json:"y"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Tick            uint64      `json:"tick"`
	Params          WorldParams `json:"params"`
	Areas           [][3]int    `json:"areas"`
	BlockPalette    []string    `json:"block_palette"`
}

type WorldParams struct {
	TickIntervalMS int64 `json:"tick_interval_ms"`
	AreaSize       int   `json:"area_size"`
	MaxWorkers     int   `json:"max_workers"`
}

// Server -> Client. Sent after every tick that touches the client's filter, and after
// every tick when the filter is empty.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Areas           int      `json:"areas"`
	DirtyAreas      [][3]int `json:"dirty_areas,omitempty"`
	Flips           int      `json:"flips"`
	ActiveGates     int      `json:"active_gates"`
	DroppedHandoffs int      `json:"dropped_handoffs,omitempty"`
	DurationUS      int64    `json:"duration_us"`
	Error           string   `json:"error,omitempty"`
}

// Server -> Client. CellsRLE holds the 256 cells of the layer in x + z*16 order, run-length
// encoded as base64 uvarint pairs (type<<1 | on, run). Types index BootstrapResponse.BlockPalette.
type LayerMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Area            [3]int `json:"area"`
	Y               int    `json:"y"`
	CellsRLE        string `json:"cells_rle"`
}

// Server -> Client. Reply to a request that could not be served.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Message         string `json:"message"`
}
