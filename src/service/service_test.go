package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectionnet/src/config"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/node"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

func newGenesisNode(t *testing.T) *node.Node {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)

	addr, trans := net.NewInmemTransport("")

	conf := config.NewTestConfig(t, logrus.InfoLevel)
	conf.SetDataDir(t.TempDir())
	conf.Genesis = true

	k := section.NewKnowledge(section.NewInmemStore(), conf.Logger())
	n, err := node.NewNode(conf, node.NewValidator(key, addr, 1, "genesis"), k, trans, nil)
	require.NoError(t, err)
	require.NoError(t, n.Init())

	t.Cleanup(n.Shutdown)

	return n
}

func get(t *testing.T, s *Service, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServiceEndpoints(t *testing.T) {
	n := newGenesisNode(t)
	s := NewService("", n, logrus.NewEntry(logrus.New()))

	rec := get(t, s, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var stats map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Equal(t, "Elder", stats["state"])

	rec = get(t, s, "/sap")
	require.Equal(t, http.StatusOK, rec.Code)
	var sap section.SignedSAP
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sap))
	require.Equal(t, uint64(0), sap.SAP.Generation)
	require.Len(t, sap.SAP.Elders, 1)

	rec = get(t, s, "/chain")
	require.Equal(t, http.StatusOK, rec.Code)
	var chain section.Chain
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&chain))
	require.Len(t, chain, 1)

	rec = get(t, s, "/members")
	require.Equal(t, http.StatusOK, rec.Code)
	var members []section.SignedNodeState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&members))
	require.Len(t, members, 1)

	rec = get(t, s, "/contacts")
	require.Equal(t, http.StatusOK, rec.Code)
	var contacts peers.NetworkContacts
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&contacts))
	require.Len(t, contacts.Sections, 1)

	rec = get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "sectionnet_section_members 1"))
}

func TestServiceMethodNotAllowed(t *testing.T) {
	n := newGenesisNode(t)
	s := NewService("", n, logrus.NewEntry(logrus.New()))

	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
