// Package sectionnet assembles a section node from its configuration: keys,
// store, transport, node and HTTP service.
package sectionnet

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectionnet/src/config"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/node"
	"github.com/mosaicnetworks/sectionnet/src/section"
	"github.com/mosaicnetworks/sectionnet/src/service"
)

// SectionNet is a configured node with its supporting components.
type SectionNet struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     section.Store
	Service   *service.Service

	logger *logrus.Entry
}

// NewSectionNet ...
func NewSectionNet(c *config.Config) *SectionNet {
	return &SectionNet{
		Config: c,
		logger: c.Logger(),
	}
}

// Init reads the key, opens the store and the transport and initialises the
// node.
func (s *SectionNet) Init() error {
	if s.Config.Bootstrap {
		s.Config.Store = true
	}

	if err := s.initKey(); err != nil {
		return err
	}

	if err := s.initStore(); err != nil {
		return err
	}

	if err := s.initTransport(); err != nil {
		return err
	}

	if err := s.initNode(); err != nil {
		return err
	}

	s.initService()

	return nil
}

// Run starts the service, if any, and runs the node until it shuts down.
func (s *SectionNet) Run() {
	if s.Service != nil {
		go s.Service.Serve()
	}

	s.Node.Run()
}

func (s *SectionNet) initKey() error {
	if s.Config.Key != nil {
		return nil
	}

	keyfile := keys.NewSimpleKeyfile(s.Config.Keyfile())

	key, err := keyfile.ReadKey()
	if err != nil {
		s.logger.WithError(err).Warn("Cannot read private key from file")

		key, err = Keygen(s.Config.Keyfile())
		if err != nil {
			return err
		}

		s.logger.WithField("public_key", keys.PublicKeyHex(&key.PublicKey)).Info("Created a new key")
	}

	s.Config.Key = key

	return nil
}

func (s *SectionNet) initStore() error {
	if !s.Config.Store {
		s.Store = section.NewInmemStore()
		s.logger.Debug("Created new in-mem store")
		return nil
	}

	path := s.Config.DatabaseDir
	if !s.Config.Bootstrap {
		path = freshPath(path)
	} else if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("bootstrap from %s: %w", path, err)
	}

	s.logger.WithFields(logrus.Fields{
		"path": path,
		"type": s.Config.StoreType,
	}).Debug("Opening database")

	var err error
	switch s.Config.StoreType {
	case config.LevelDBStore:
		s.Store, err = section.NewLevelDBStore(path)
	case config.BoltStore:
		s.Store, err = section.NewBoltStore(path)
	case config.BadgerStore, "":
		s.Store, err = section.NewBadgerStore(path)
	default:
		return fmt.Errorf("unknown store type %q", s.Config.StoreType)
	}

	return err
}

func (s *SectionNet) initTransport() error {
	if s.Transport != nil {
		return nil
	}

	trans, err := net.NewTCPTransport(
		s.Config.BindAddr,
		s.Config.AdvertiseAddr,
		s.Config.MaxPool,
		s.Config.TCPTimeout,
		s.logger,
	)
	if err != nil {
		return err
	}

	go trans.Listen()

	s.Transport = trans

	return nil
}

func (s *SectionNet) initNode() error {
	validator := node.NewValidator(
		s.Config.Key,
		s.Transport.AdvertiseAddr(),
		s.Config.MinAdultAge,
		s.Config.Moniker,
	)

	knowledge := section.NewKnowledge(s.Store, s.logger)

	n, err := node.NewNode(s.Config, validator, knowledge, s.Transport, nil)
	if err != nil {
		return err
	}

	if err := n.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}

	s.Node = n

	return nil
}

func (s *SectionNet) initService() {
	if s.Config.NoService {
		return
	}
	s.Service = service.NewService(s.Config.ServiceAddr, s.Node, s.logger)
}

// Keygen creates a new key and writes it to keyfile, refusing to overwrite an
// existing one.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(keyfile); err == nil {
		return nil, fmt.Errorf("another key already lives at %s", keyfile)
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := keys.NewSimpleKeyfile(keyfile).WriteKey(key); err != nil {
		return nil, err
	}

	return key, nil
}

// freshPath returns path, or path suffixed with the first free "(n)" when a
// database already lives there.
func freshPath(path string) string {
	candidate := path
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s(%d)", path, i)
	}
}
