package cache

import (
	"sort"
	"strings"
)

// Kind discriminates the cacheable resource descriptors.
type Kind string

const (
	KindSite      Kind = "site"
	KindPage      Kind = "page"
	KindChannel   Kind = "channel"
	KindRegion    Kind = "region"
	KindSettings  Kind = "settings"
	KindAggregate Kind = "aggregate"
)

// Descriptor identifies one cacheable resource. Tag derivation is a pure
// function of the descriptor: the same descriptor always yields the same tag
// set regardless of caller, and values are normalized before tagging so two
// descriptors differing only in casing collapse to identical tags.
type Descriptor struct {
	Kind       Kind
	Site       string
	PageID     string
	Channel    string
	Region     string
	EntityType string
}

// Tag renders one canonical cache tag: lowercase, colon-delimited kind:value.
func Tag(kind Kind, value string) string {
	return string(kind) + ":" + normalizeTagValue(value)
}

// Tags computes the canonical, deduplicated, sorted tag set for a descriptor.
// Every response tagged with a non-empty site carries site:<id> as the coarse
// invalidation lever; identity and taxonomy axes stack on top of it.
func (d Descriptor) Tags() []string {
	set := make(map[string]struct{}, 4)

	if d.Site != "" {
		set[Tag(KindSite, d.Site)] = struct{}{}
	}

	switch d.Kind {
	case KindPage:
		if d.PageID != "" {
			set[Tag(KindPage, d.PageID)] = struct{}{}
		}
	case KindChannel:
		if d.Channel != "" {
			set[Tag(KindChannel, d.Channel)] = struct{}{}
		}
	case KindRegion:
		if d.Region != "" {
			set[Tag(KindRegion, d.Region)] = struct{}{}
		}
	case KindSettings:
		if d.Site != "" {
			set[Tag(KindSettings, d.Site)] = struct{}{}
		}
	case KindAggregate:
		if d.Site != "" {
			set[Tag(KindAggregate, d.Site)] = struct{}{}
		}
	}

	// Taxonomy axes may co-occur with any kind.
	if d.Kind != KindChannel && d.Channel != "" {
		set[Tag(KindChannel, d.Channel)] = struct{}{}
	}
	if d.Kind != KindRegion && d.Region != "" {
		set[Tag(KindRegion, d.Region)] = struct{}{}
	}
	if d.EntityType != "" {
		set[Tag("type", d.EntityType)] = struct{}{}
	}

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// SurrogateKey renders the tag set as the space-separated Surrogate-Key header
// value consumed by tag-aware edge caches.
func SurrogateKey(tags []string) string {
	return strings.Join(tags, " ")
}

func normalizeTagValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
