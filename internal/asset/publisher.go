package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Document kinds stored per auction.
const (
	KindIP  = "ip"
	KindNFT = "nft"
)

const contentTypeJSON = "application/json"

// Publisher archives metadata through a BlobWriter. Documents are derived
// only from their inputs, so republishing after a failed registration
// writes identical bytes and yields identical hashes.
type Publisher struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger
}

// NewPublisher creates a Publisher. reader may be nil when documents are
// never read back.
func NewPublisher(writer domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		reader: reader,
		logger: logger.With(slog.String("component", "asset_publisher")),
	}
}

// Path returns the object path of an auction's metadata document.
func Path(auctionID, kind string) string {
	return "metadata/" + url.PathEscape(auctionID) + "/" + kind + ".json"
}

// Publish uploads the IP and NFT metadata for asset and returns it with the
// URIs and keccak256 hashes filled in.
func (p *Publisher) Publish(ctx context.Context, auctionID string, asset domain.AssetDescriptor, ownerID string) (domain.AssetDescriptor, error) {
	ipURI, ipHash, err := p.put(ctx, Path(auctionID, KindIP), BuildIPMetadata(auctionID, asset, ownerID))
	if err != nil {
		return asset, err
	}
	nftURI, nftHash, err := p.put(ctx, Path(auctionID, KindNFT), BuildNFTMetadata(asset))
	if err != nil {
		return asset, err
	}

	asset.MetadataURI, asset.MetadataHash = ipURI, ipHash
	asset.NFTMetadataURI, asset.NFTMetadataHash = nftURI, nftHash
	p.logger.Info("metadata published",
		slog.String("auction_id", auctionID),
		slog.String("uri", ipURI),
		slog.String("hash", ipHash),
	)
	return asset, nil
}

// Load returns a previously published document.
func (p *Publisher) Load(ctx context.Context, auctionID, kind string) ([]byte, error) {
	if p.reader == nil {
		return nil, fmt.Errorf("asset: load %s/%s: %w", auctionID, kind, domain.ErrNotFound)
	}
	rc, err := p.reader.Get(ctx, Path(auctionID, kind))
	if err != nil {
		return nil, fmt.Errorf("asset: load %s/%s: %w", auctionID, kind, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("asset: read %s/%s: %w", auctionID, kind, err)
	}
	return data, nil
}

func (p *Publisher) put(ctx context.Context, path string, doc any) (uri, hash string, err error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("asset: marshal %s: %w", path, err)
	}
	if err := p.writer.Put(ctx, path, bytes.NewReader(data), contentTypeJSON); err != nil {
		return "", "", fmt.Errorf("asset: upload %s: %w: %v", path, domain.ErrNetworkFailure, err)
	}
	return p.writer.URL(path), crypto.Keccak256Hex(data), nil
}

var _ domain.MetadataPublisher = (*Publisher)(nil)
