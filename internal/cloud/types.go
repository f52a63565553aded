package cloud

// ProtocolVersion is sent on every register, hello and status message.
const ProtocolVersion = "2"

// MyInfo carries the device self-description sent at registration.
type MyInfo struct {
	MAC             string `json:"MAC"`
	ProtocolVersion string `json:"protocolVersion"`
}

type RegisterRequest struct {
	Mfg       string `json:"mfg"`
	Email     string `json:"email"`
	Pin       string `json:"pin"`
	PublicKey string `json:"publicKey"`
	MyInfo    MyInfo `json:"myInfo"`
}

// RegisterResponse carries the cloud-assigned serial; an absent or empty
// serial means registration failed.
type RegisterResponse struct {
	SerialNumber string `json:"serialNumber"`
	Reason       string `json:"reason,omitempty"`
}

type Welcome struct {
	Challenge string `json:"challenge"`
}

type Hello struct {
	SerialNumber string `json:"serialNumber"`
	Signature    string `json:"signature"`
	MAC          string `json:"MAC"`
	LocalIP      string `json:"localIp"`
	Protocol     string `json:"protocol"`
}

type GetURLRequest struct {
	SerialNumber string `json:"serialNumber"`
	Method       string `json:"method"`
	Type         string `json:"type"`
	JobID        string `json:"jobId"`
}

type GetURLResponse struct {
	SerialNumber string            `json:"serialNumber"`
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Type         string            `json:"type"`
	Expires      StringOrNumber    `json:"expires"`
	URL          string            `json:"url"`
	MaxSize      StringOrNumber    `json:"maxSize"`
	Fields       map[string]string `json:"fields"`
}

// Status is the periodic telemetry payload, rebuilt fresh on every heartbeat
// tick. Progress fields are strings on the wire.
type Status struct {
	SerialNumber   string  `json:"serialNumber"`
	Status         string  `json:"status"`
	Tool0          float64 `json:"tool0"`
	Tool1          float64 `json:"tool1"`
	Bed            float64 `json:"bed"`
	TargetTool0    float64 `json:"targetTool0"`
	TargetTool1    float64 `json:"targetTool1"`
	TargetBed      float64 `json:"targetBed"`
	JobID          string  `json:"jobId"`
	Protocol       string  `json:"protocol"`
	Progress       string  `json:"progress"`
	ProgressDetail string  `json:"progressDetail"`
	EstimatedTime  string  `json:"estimatedTime"`
	FilamentUsed   string  `json:"filamentUsed"`
	StartTime      string  `json:"startTime"`
	PrintSeconds   string  `json:"printSeconds"`
	BytesRead      string  `json:"bytesRead"`
	FileSize       string  `json:"fileSize"`
	File           string  `json:"file"`
	Config         string  `json:"config"`
	SliceDetails   string  `json:"sliceDetails"`
	SecurityCode   string  `json:"securityCode"`
}

type JobUpdate struct {
	SerialNumber string `json:"serialNumber"`
	JobID        string `json:"jobId"`
	State        string `json:"state"`
}

type VersionInfo struct {
	SerialNumber   string `json:"serialNumber"`
	RunningVersion string `json:"runningVersion"`
	LatestVersion  string `json:"latestVersion"`
}

// Addressed is the common shape of inbound messages that target a specific
// device.
type Addressed struct {
	SerialNumber string `json:"serialNumber"`
}

type CommandMessage struct {
	SerialNumber string `json:"serialNumber"`
	Command      string `json:"command"`
}
