// Package config loads service configuration from a YAML file, an optional
// .env file, and environment variables, using viper.
//
// Environment variables are bound under every nesting the key could mean,
// so DISCOVERY_CONSUL_ADDRESSES reaches discovery.consul_addresses as well
// as discovery.consul.addresses.
//
//	var cfg resolver.Config
//	err := config.LoadConfig("meshprobe", &cfg, config.WithConfigFile(path))
package config
