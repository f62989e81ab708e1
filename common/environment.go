package common

import (
	"os"
	"strconv"
)

type EnvironmentVariable struct {
	Name         string
	DefaultValue string
	Description  string
}

// This array needs to be updated when a new public environment variable is added
var VisibleEnvironmentVariables = []EnvironmentVariable{
	EEnvironmentVariable.MaxWorkers(),
	EEnvironmentVariable.MinFreeMemoryGB(),
	EEnvironmentVariable.MinFreeDiskGB(),
	EEnvironmentVariable.BaseChunkSize(),
	EEnvironmentVariable.MaxMemoryGB(),
}

var EEnvironmentVariable = EnvironmentVariable{}

func (EnvironmentVariable) MaxWorkers() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "MAX_WORKERS",
		Description: "Overrides how many workers process chunks and downloads. By default this is derived from the number of logical cores, capped at 8.",
	}
}

func (EnvironmentVariable) MinFreeMemoryGB() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "MIN_FREE_MEMORY_GB",
		DefaultValue: "5.0",
		Description:  "Free-memory floor below which chunk sizes shrink.",
	}
}

func (EnvironmentVariable) MinFreeDiskGB() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "MIN_FREE_DISK_GB",
		DefaultValue: "5.0",
		Description:  "Free-disk floor below which the pipeline pauses.",
	}
}

func (EnvironmentVariable) BaseChunkSize() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "BASE_CHUNK_SIZE",
		DefaultValue: "100000",
		Description:  "Base number of metric rows read per chunk before memory-class scaling.",
	}
}

func (EnvironmentVariable) MaxMemoryGB() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "MAX_MEMORY_GB",
		Description: "Hard ceiling on resident memory before new chunks stop being scheduled.",
	}
}

// GetEnvironmentVariable returns the value of the env var, or its recorded
// default when unset.
func GetEnvironmentVariable(env EnvironmentVariable) string {
	value := os.Getenv(env.Name)
	if value == "" {
		return env.DefaultValue
	}
	return value
}

// ConfiguredInt is an integer which may be optionally configured by the user
// through an environment variable.
type ConfiguredInt struct {
	Value             int
	IsUserSpecified   bool
	EnvVarName        string
	DefaultSourceDesc string
}

func (i *ConfiguredInt) GetDescription() string {
	if i.IsUserSpecified {
		return "Based on " + i.EnvVarName + " environment variable"
	}
	return "Based on " + i.DefaultSourceDesc + ". Set " + i.EnvVarName + " environment variable to override"
}

// TryNewConfiguredInt populates a ConfiguredInt from an environment variable,
// or returns nil if the env var is not set or unparseable.
func TryNewConfiguredInt(envVar EnvironmentVariable) *ConfiguredInt {
	override := os.Getenv(envVar.Name)
	if override == "" {
		return nil
	}
	val, err := strconv.ParseInt(override, 10, 64)
	if err != nil {
		return nil
	}
	return &ConfiguredInt{int(val), true, envVar.Name, ""}
}

// ConfiguredFloat is the float analogue of ConfiguredInt.
type ConfiguredFloat struct {
	Value             float64
	IsUserSpecified   bool
	EnvVarName        string
	DefaultSourceDesc string
}

func TryNewConfiguredFloat(envVar EnvironmentVariable) *ConfiguredFloat {
	override := os.Getenv(envVar.Name)
	if override == "" {
		return nil
	}
	val, err := strconv.ParseFloat(override, 64)
	if err != nil {
		return nil
	}
	return &ConfiguredFloat{val, true, envVar.Name, ""}
}
