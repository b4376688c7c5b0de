package daos

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/kmacoskey/haas/models"
)

const (
	ErrorClusterNotUpdated = "cannot update a cluster that does not exist"
	ErrorClusterNotDeleted = "cannot delete a cluster that does not exist"
)

const (
	insertClusterQuery = `
		INSERT INTO clusters (id, name, project, prefix, zone, machinetype, image, network, num_workers, custom_command, persistent_disk, status, message, master_instance)
		VALUES (:id, :name, :project, :prefix, :zone, :machinetype, :image, :network, :num_workers, :custom_command, :persistent_disk, :status, :message, :master_instance)
		RETURNING *`
	updateClusterQuery = `
		UPDATE clusters
		SET status = :status, message = :message, master_instance = :master_instance
		WHERE id = :id
		RETURNING *`
)

// ClusterDao persists cluster and instance records. Every method commits
// independently so that lifecycle progress survives a crash of the process.
type ClusterDao struct{}

func NewClusterDao() *ClusterDao {
	return &ClusterDao{}
}

func (dao *ClusterDao) CreateCluster(db *sqlx.DB, cluster *models.Cluster) (*models.Cluster, error) {
	rows, err := db.NamedQuery(insertClusterQuery, cluster)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	created := &models.Cluster{}
	if !rows.Next() {
		return nil, errors.New("no cluster returned from insert")
	}
	if err := rows.StructScan(created); err != nil {
		return nil, err
	}

	return created, nil
}

// GetCluster returns the cluster record for an id, or nil without error when
// no record exists.
func (dao *ClusterDao) GetCluster(db *sqlx.DB, id string) (*models.Cluster, error) {
	cluster := &models.Cluster{}
	err := db.Get(cluster, "SELECT * FROM clusters WHERE id=$1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

func (dao *ClusterDao) GetClusters(db *sqlx.DB) ([]models.Cluster, error) {
	clusters := []models.Cluster{}
	err := db.Select(&clusters, "SELECT * FROM clusters")
	return clusters, err
}

func (dao *ClusterDao) ClustersByStatus(db *sqlx.DB, status models.ClusterStatus) ([]models.Cluster, error) {
	clusters := []models.Cluster{}
	err := db.Select(&clusters, "SELECT * FROM clusters WHERE status=$1", status)
	return clusters, err
}

// UpdateCluster persists the mutable fields of a cluster record: status,
// message and master instance. Spec fields never change after creation.
func (dao *ClusterDao) UpdateCluster(db *sqlx.DB, cluster *models.Cluster) (*models.Cluster, error) {
	rows, err := db.NamedQuery(updateClusterQuery, cluster)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updated := &models.Cluster{}
	if !rows.Next() {
		return nil, errors.New(ErrorClusterNotUpdated)
	}
	if err := rows.StructScan(updated); err != nil {
		return nil, err
	}

	return updated, nil
}

func (dao *ClusterDao) DeleteCluster(db *sqlx.DB, id string) error {
	result, err := db.Exec("DELETE FROM clusters WHERE id=$1", id)
	if err != nil {
		return err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return errors.New(ErrorClusterNotDeleted)
	}

	return nil
}
