// Package config defines the configuration for a section node.
//
// Whether the node is started from Go code or from the command line, it uses
// the Config object defined in this package. On top of these options, a node
// relies on a data directory, defined by Config.DataDir, where it expects to
// find a few additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. sectionnet keygen).
//  contacts.json // the network contacts: known sections, their keys and elders.
//  sectionnet.toml // (optional) values for any of the command line flags.
package config
