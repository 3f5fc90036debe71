// Package uci builds and parses the UCI JSON documents exchanged with the
// rest of the mission system: inbound FileLocation notifications and
// outbound Entity, ATR processing result, and product documents.
package uci

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sarlink/atruci/atr"
)

const (
	schemaVersion = "002.3"
	mode          = "SIMULATION"
	xmlns         = "namespace"
)

// SystemInfo identifies this service in outbound message headers. It is
// loaded from configuration once and never mutated afterwards.
type SystemInfo struct {
	SystemUUID     string
	Description    string
	ServiceVersion string
}

// DecodeError reports a notification document that is missing required
// structure.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("uci: decode error: %s", e.Reason)
}

// timestamp renders t as the UCI wire format: UTC with millisecond
// precision and a literal Z suffix.
func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

type uuidRef struct {
	UUID string `json:"UUID"`
}

type systemID struct {
	UUID             string `json:"UUID"`
	DescriptiveLabel string `json:"DescriptiveLabel"`
}

type serviceID struct {
	UUID             string `json:"UUID"`
	DescriptiveLabel string `json:"DescriptiveLabel"`
	ServiceVersion   string `json:"ServiceVersion"`
}

type messageHeader struct {
	SystemID      systemID  `json:"SystemID"`
	Timestamp     string    `json:"Timestamp"`
	SchemaVersion string    `json:"SchemaVersion"`
	Mode          string    `json:"Mode"`
	ServiceID     serviceID `json:"ServiceID"`
}

func newHeader(info SystemInfo, now time.Time) messageHeader {
	return messageHeader{
		SystemID: systemID{
			UUID:             info.SystemUUID,
			DescriptiveLabel: info.Description,
		},
		Timestamp:     timestamp(now),
		SchemaVersion: schemaVersion,
		Mode:          mode,
		ServiceID: serviceID{
			UUID:             info.SystemUUID,
			DescriptiveLabel: info.Description,
			ServiceVersion:   info.ServiceVersion,
		},
	}
}

type fileLocationDoc struct {
	FileLocation struct {
		MessageData struct {
			LocationAndStatus struct {
				Location struct {
					Network struct {
						Address string `json:"Address"`
					} `json:"Network"`
				} `json:"Location"`
			} `json:"LocationAndStatus"`
		} `json:"MessageData"`
	} `json:"FileLocation"`
}

// ParseFileLocation extracts the image file path from an inbound
// FileLocation notification.
func ParseFileLocation(doc []byte) (string, error) {
	var parsed fileLocationDoc
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return "", &DecodeError{Reason: fmt.Sprintf("invalid FileLocation document: %v", err)}
	}

	addr := parsed.FileLocation.MessageData.LocationAndStatus.Location.Network.Address
	if addr == "" {
		return "", &DecodeError{Reason: "FileLocation document has no network address"}
	}
	return addr, nil
}

type relativeOffset struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

type rectangle struct {
	Width                float64 `json:"Width"`
	Height               float64 `json:"Height"`
	CenterPositionChoice struct {
		RelativePoint struct {
			RelativeOffset relativeOffset `json:"RelativeOffset"`
		} `json:"RelativePoint"`
	} `json:"CenterPositionChoice"`
}

type entityData struct {
	EntityID          uuidRef `json:"EntityID"`
	CreationTimestamp string  `json:"CreationTimestamp"`
	Identity          struct {
		Platform struct {
			ThreatType string `json:"ThreatType"`
		} `json:"Platform"`
	} `json:"Identity"`
	Kinematics struct {
		Position struct {
			Zone struct {
				Shape struct {
					Rectangle rectangle `json:"Rectangle"`
				} `json:"Shape"`
			} `json:"Zone"`
		} `json:"Position"`
	} `json:"Kinematics"`
}

type entityDoc struct {
	Entity struct {
		Xmlns               string        `json:"@xmlns"`
		SecurityInformation struct{}      `json:"SecurityInformation"`
		MessageHeader       messageHeader `json:"MessageHeader"`
		MessageData         entityData    `json:"MessageData"`
	} `json:"Entity"`
}

// NewEntity builds an Entity document for one detection and returns the
// document along with the freshly generated entity identifier, which the
// caller threads into the processing result for the same cycle.
func NewEntity(det atr.Detection, info SystemInfo) ([]byte, string, error) {
	now := time.Now()
	entityID := uuid.NewString()

	var doc entityDoc
	doc.Entity.Xmlns = xmlns
	doc.Entity.MessageHeader = newHeader(info, now)

	data := &doc.Entity.MessageData
	data.EntityID = uuidRef{UUID: entityID}
	data.CreationTimestamp = timestamp(now)
	data.Identity.Platform.ThreatType = det.Classification

	rect := &data.Kinematics.Position.Zone.Shape.Rectangle
	rect.Width = det.Box.Width()
	rect.Height = det.Box.Height()
	rect.CenterPositionChoice.RelativePoint.RelativeOffset = relativeOffset{
		X: det.Box.CenterX(),
		Y: det.Box.CenterY(),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("uci: failed to marshal Entity document: %w", err)
	}
	return raw, entityID, nil
}

type entityIDEntry struct {
	Xmlns string `json:"@xmlns"`
	UUID  string `json:"ns1:UUID"`
}

type processingResultDoc struct {
	Result struct {
		Xmlns     string          `json:"@xmlns"`
		EntityIDs []entityIDEntry `json:"ns1:EntityId"`
	} `json:"ATR_ProcessingResultsType"`
}

// NewProcessingResult builds the cycle summary document listing, in publish
// order, the entity identifiers created in this cycle.
func NewProcessingResult(entityIDs []string) ([]byte, error) {
	var doc processingResultDoc
	doc.Result.EntityIDs = make([]entityIDEntry, 0, len(entityIDs))
	for _, id := range entityIDs {
		doc.Result.EntityIDs = append(doc.Result.EntityIDs, entityIDEntry{
			Xmlns: xmlns,
			UUID:  id,
		})
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("uci: failed to marshal processing result: %w", err)
	}
	return raw, nil
}

type productMetadataDoc struct {
	ProductMetadata struct {
		Xmlns         string        `json:"@xmlns"`
		MessageHeader messageHeader `json:"MessageHeader"`
		MessageData   struct {
			ProductMetadataID  uuidRef `json:"ProductMetadataID"`
			AssociatedEntityID uuidRef `json:"AssociatedEntityID"`
			CreationTimestamp  string  `json:"CreationTimestamp"`
		} `json:"MessageData"`
	} `json:"ProductMetadata"`
}

// NewProductMetadata builds the metadata document announcing a product chip
// associated with a published entity. The returned product identifier links
// the companion ProductLocation document.
func NewProductMetadata(entityID string, info SystemInfo) ([]byte, string, error) {
	now := time.Now()
	productID := uuid.NewString()

	var doc productMetadataDoc
	doc.ProductMetadata.Xmlns = xmlns
	doc.ProductMetadata.MessageHeader = newHeader(info, now)
	doc.ProductMetadata.MessageData.ProductMetadataID = uuidRef{UUID: productID}
	doc.ProductMetadata.MessageData.AssociatedEntityID = uuidRef{UUID: entityID}
	doc.ProductMetadata.MessageData.CreationTimestamp = timestamp(now)

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("uci: failed to marshal ProductMetadata document: %w", err)
	}
	return raw, productID, nil
}

type productLocationDoc struct {
	ProductLocation struct {
		Xmlns         string        `json:"@xmlns"`
		MessageHeader messageHeader `json:"MessageHeader"`
		MessageData   struct {
			ProductMetadataID uuidRef `json:"ProductMetadataID"`
			LocationAndStatus struct {
				Location struct {
					Network struct {
						Address string `json:"Address"`
					} `json:"Network"`
				} `json:"Location"`
			} `json:"LocationAndStatus"`
		} `json:"MessageData"`
	} `json:"ProductLocation"`
}

// NewProductLocation builds the document pointing consumers at the chip
// file for a previously announced product.
func NewProductLocation(productID, chipPath string, info SystemInfo) ([]byte, error) {
	var doc productLocationDoc
	doc.ProductLocation.Xmlns = xmlns
	doc.ProductLocation.MessageHeader = newHeader(info, time.Now())
	doc.ProductLocation.MessageData.ProductMetadataID = uuidRef{UUID: productID}
	doc.ProductLocation.MessageData.LocationAndStatus.Location.Network.Address = chipPath

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("uci: failed to marshal ProductLocation document: %w", err)
	}
	return raw, nil
}
