package tracker

import (
	"time"

	"github.com/google/uuid"
)

const (
	IdentityKey     = "agencia_m2a_visitante_uuid"
	ConsentKey      = "agencia_m2a_lgpd_consentimento"
	ConsentDateKey  = "agencia_m2a_lgpd_data"
	ConsentAccepted = "aceito"
)

// GetOrCreateIdentity renvoie l'identifiant du navigateur, créé au besoin.
// Si le stockage échoue l'identifiant est quand même renvoyé, et sera
// considéré comme nouveau au prochain chargement.
func GetOrCreateIdentity(s Storage) (id string, created bool, err error) {
	id, ok, err := s.Get(IdentityKey)
	if err == nil && ok && id != "" {
		return id, false, nil
	}

	id = uuid.NewString()
	if setErr := s.Set(IdentityKey, id); setErr != nil && err == nil {
		err = setErr
	}
	return id, true, err
}

func HasConsent(s Storage) bool {
	v, ok, err := s.Get(ConsentKey)
	return err == nil && ok && v == ConsentAccepted
}

func GrantConsent(s Storage, now time.Time) error {
	if err := s.Set(ConsentKey, ConsentAccepted); err != nil {
		return err
	}
	return s.Set(ConsentDateKey, now.UTC().Format(time.RFC3339))
}
