package storage

import "github.com/Kxd395/DoseTap-sub000/internal"

func NewFileRepositories(sessionsFile, medicationsFile string, logger internal.Logger) (SessionRepository, MedicationRepository, error) {
	storage, err := NewFileStorage(sessionsFile, medicationsFile, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage, storage, nil
}

func NewPostgresRepositories(dsn string, logger internal.Logger) (SessionRepository, MedicationRepository, error) {
	storage, err := NewPostgresStorage(dsn, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage, storage, nil
}
