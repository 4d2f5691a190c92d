// Package asset builds the metadata documents that describe a won agent
// and archives them in object storage before registration.
package asset

import (
	"fmt"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Creator credits a contributor in IP metadata.
type Creator struct {
	Name                string `json:"name"`
	Address             string `json:"address"`
	Description         string `json:"description"`
	ContributionPercent int    `json:"contributionPercent"`
}

// IPMetadata describes the agent as an intellectual property asset.
type IPMetadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	MediaURL    string    `json:"mediaUrl"`
	MediaType   string    `json:"mediaType"`
	Creators    []Creator `json:"creators"`
	AgentID     string    `json:"agentId,omitempty"`
	AuctionID   string    `json:"auctionId"`
}

// NFTMetadata describes the ownership token minted for the winner.
type NFTMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

const defaultMediaType = "image/png"

// BuildIPMetadata credits the winner with the whole contribution.
func BuildIPMetadata(auctionID string, a domain.AssetDescriptor, ownerID string) IPMetadata {
	return IPMetadata{
		Title:       a.Name,
		Description: a.Description,
		Image:       a.ImageURL,
		MediaURL:    a.ImageURL,
		MediaType:   defaultMediaType,
		Creators: []Creator{{
			Name:                a.Creator,
			Address:             ownerID,
			Description:         "AI Agent Creator",
			ContributionPercent: 100,
		}},
		AgentID:   a.AgentID,
		AuctionID: auctionID,
	}
}

// BuildNFTMetadata names the ownership token after the agent.
func BuildNFTMetadata(a domain.AssetDescriptor) NFTMetadata {
	return NFTMetadata{
		Name:        a.Name + " Ownership NFT",
		Description: fmt.Sprintf("This is an NFT representing ownership of the AI Agent: %s", a.Name),
		Image:       a.ImageURL,
	}
}
