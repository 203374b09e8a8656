package source

import (
	"strings"

	"github.com/rs/zerolog/log"
)

type Spec map[string]string

const (
  SpecFieldName = "name"
  SpecFieldAddress = "addr"
  SpecFieldInterval = "interval"
)

func NewSpec(s string) Spec {
  spec := Spec{}
  entries := strings.Split(s, ",")

  for _, entry := range entries {
    parts := strings.SplitN(entry, "=", 2)

    if len(parts) != 2 {
      log.Warn().Str("Entry", entry).Msg("Skipping invalid source spec entry")
      continue
    }

    spec[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
  }

  return spec
}

func (s Spec) Name() string {
  return s[SpecFieldName]
}

func (s Spec) Addr() string {
  return s[SpecFieldAddress]
}
