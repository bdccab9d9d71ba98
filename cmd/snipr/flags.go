package main

// RootFlags Flag structs to decouple cobra from logic for testing.
type RootFlags struct {
	ConfigPath string
	Signal     string
	Include    []string
	Exclude    []string
	Memory     int64
	CPU        float64
	Alive      string
	Parent     bool
	DryRun     bool
	Pkill      bool
	Table      string
	LogLevel   string
	LogFormat  string
	// History and metrics export
	HistoryDSN      string
	Pushgateway     string
	MetricsTextfile string
}

type ListFlags struct {
	JSON bool
}
