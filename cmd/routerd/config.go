package main

// config describes the routerd command line.
type config struct {
	GraphFile string `long:"graphfile" description:"Path to a JSON channel graph snapshot to load on startup"`

	DebugLevel string `long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	SelfNode string `long:"selfnode" description:"Hex encoded identity key of the local node, the origin of every route"`

	Prometheus string `long:"prometheus" description:"Listen address for the prometheus metrics endpoint"`

	Dest string `long:"dest" description:"If set, resolve a route to this hex encoded node key, print it and exit"`

	AmtMsat uint64 `long:"amt_msat" description:"Amount in milli-satoshi to route when --dest is set"`
}

// defaultConfig returns the config all flags are applied on top of.
func defaultConfig() config {
	return config{
		DebugLevel: "info",
		Prometheus: "localhost:9090",
		AmtMsat:    1000,
	}
}
