// Package config provides configuration loading and validation for the UE,
// MEC and Device App registry binaries. One YAML file carries a section per
// app; keys left out of the file keep the values from Default.
package config
