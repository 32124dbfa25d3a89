package persist

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/pkg/logger"
	"github.com/inquire-x/reflective-chat/pkg/metrics"
)

const (
	// snapshotKey is the single key holding the state blob.
	snapshotKey = "state"

	kvOpTimeout = 5 * time.Second
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
	Bucket   string
}

// NATSPersister stores the snapshot blob in a JetStream key-value bucket.
type NATSPersister struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	logger *logger.Logger
}

// ConnectNATS establishes a NATS connection and ensures the key-value
// bucket exists.
func ConnectNATS(ctx context.Context, cfg NATSConfig, log *logger.Logger) (*NATSPersister, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}

	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Conversation and settings snapshot",
		History:     5,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}

	return &NATSPersister{conn: nc, kv: kv, logger: log}, nil
}

// Save writes the snapshot blob to the bucket.
func (p *NATSPersister) Save(snap *store.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		metrics.PersistWritesTotal.WithLabelValues("nats", "error").Inc()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), kvOpTimeout)
	defer cancel()

	if _, err := p.kv.Put(ctx, snapshotKey, data); err != nil {
		metrics.PersistWritesTotal.WithLabelValues("nats", "error").Inc()
		return fmt.Errorf("failed to put snapshot: %w", err)
	}

	metrics.PersistWritesTotal.WithLabelValues("nats", "success").Inc()
	return nil
}

// Load reads the snapshot blob. A missing key returns a nil snapshot and
// no error.
func (p *NATSPersister) Load() (*store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kvOpTimeout)
	defer cancel()

	entry, err := p.kv.Get(ctx, snapshotKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(entry.Value(), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// IsConnected reports whether the NATS connection is up.
func (p *NATSPersister) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close closes the NATS connection.
func (p *NATSPersister) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
