package config

// BundleFileExt is the compiled bundle file extension
const BundleFileExt = ".lbc"

// BundleFileExtensions are all recognized bundle file extensions
var BundleFileExtensions = []string{".lbc", ".lune"}

// DefaultListenAddr is the default address for the remote debug server
const DefaultListenAddr = "127.0.0.1:7459"

// DefaultConfigName is the config file searched for near the bundle
const DefaultConfigName = "lune.yaml"
