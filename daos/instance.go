package daos

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/kmacoskey/haas/models"
)

const ErrorInstanceNotUpdated = "cannot update an instance that does not exist"

const (
	insertInstanceQuery = `
		INSERT INTO instances (cluster_id, name, role, rpckey, external_ip)
		VALUES (:cluster_id, :name, :role, :rpckey, :external_ip)
		RETURNING *`
	updateInstanceQuery = `
		UPDATE instances
		SET external_ip = :external_ip
		WHERE cluster_id = :cluster_id AND name = :name
		RETURNING *`
)

func (dao *ClusterDao) CreateInstance(db *sqlx.DB, instance *models.Instance) (*models.Instance, error) {
	rows, err := db.NamedQuery(insertInstanceQuery, instance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	created := &models.Instance{}
	if !rows.Next() {
		return nil, errors.New("no instance returned from insert")
	}
	if err := rows.StructScan(created); err != nil {
		return nil, err
	}

	return created, nil
}

// GetInstance returns a cluster's instance record by name, or nil without
// error when no record exists.
func (dao *ClusterDao) GetInstance(db *sqlx.DB, clusterId string, name string) (*models.Instance, error) {
	instance := &models.Instance{}
	err := db.Get(instance, "SELECT * FROM instances WHERE cluster_id=$1 AND name=$2", clusterId, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func (dao *ClusterDao) InstancesForCluster(db *sqlx.DB, clusterId string) ([]models.Instance, error) {
	instances := []models.Instance{}
	err := db.Select(&instances, "SELECT * FROM instances WHERE cluster_id=$1 ORDER BY name", clusterId)
	return instances, err
}

// UpdateInstance persists an instance's external address, the only field
// that changes after creation.
func (dao *ClusterDao) UpdateInstance(db *sqlx.DB, instance *models.Instance) (*models.Instance, error) {
	rows, err := db.NamedQuery(updateInstanceQuery, instance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updated := &models.Instance{}
	if !rows.Next() {
		return nil, errors.New(ErrorInstanceNotUpdated)
	}
	if err := rows.StructScan(updated); err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteInstances removes every instance record of a cluster. Deleting for a
// cluster with no records is not an error, so teardown can repeat it.
func (dao *ClusterDao) DeleteInstances(db *sqlx.DB, clusterId string) error {
	_, err := db.Exec("DELETE FROM instances WHERE cluster_id=$1", clusterId)
	return err
}
