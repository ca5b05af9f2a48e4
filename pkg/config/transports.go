package config

// TransportConfig selects the datagram transport and its endpoints.
// Example YAML:
//
//	transport:
//	  kind: udp
//	  listen: ":7777"
//	  dial: ["10.0.0.2:7777"]
type TransportConfig struct {
	Kind string `mapstructure:"kind"`
	// Listen is the local bind address; ":0" selects an ephemeral port.
	Listen string `mapstructure:"listen"`
	// Dial lists servers to connect to on startup.
	Dial []string `mapstructure:"dial"`
}
