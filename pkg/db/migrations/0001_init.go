package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Storyline struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Controller struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:text;not null"`
	IPAddress string    `gorm:"type:text;not null;uniqueIndex:controllers_ip_address_key"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Session struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PartyName           string     `gorm:"type:text;not null"`
	Email               string     `gorm:"type:text;not null;default:''"`
	TeamSize            int        `gorm:"type:integer;not null;default:1"`
	ReceiveOffers       bool       `gorm:"not null;default:false"`
	StorylineID         *uuid.UUID `gorm:"type:uuid"`
	ProfilePhoto        string     `gorm:"type:text;not null;default:''"`
	AvatarID            string     `gorm:"type:text;not null;default:''"`
	RFIDTag             string     `gorm:"column:rfid_tag;type:text;not null;default:'';index"`
	SessionMinutes      int        `gorm:"type:integer;not null;check:session_minutes > 0"`
	Points              int        `gorm:"type:integer;not null;default:0;check:points >= 0"`
	Status              string     `gorm:"type:text;not null;index"`
	CreatedAt           time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	ApprovedAt          *time.Time `gorm:"type:timestamptz"`
	StartedAt           *time.Time `gorm:"type:timestamptz"`
	LastStartedAt       *time.Time `gorm:"type:timestamptz"`
	TotalElapsedSeconds int64      `gorm:"type:bigint;not null;default:0"`
	IsPlaying           bool       `gorm:"not null;default:false"`
	EndedAt             *time.Time `gorm:"type:timestamptz"`
	Storyline           Storyline  `gorm:"foreignKey:StorylineID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

type Checkpoint struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SessionID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:checkpoints_session_controller_key,priority:1"`
	ControllerID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:checkpoints_session_controller_key,priority:2"`
	ClearedAt    time.Time  `gorm:"type:timestamptz;not null"`
	PointsEarned int        `gorm:"type:integer;not null"`
	Session      Session    `gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Controller   Controller `gorm:"foreignKey:ControllerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

// One approved session per physical tag.
const approvedTagIndex = `CREATE UNIQUE INDEX IF NOT EXISTS sessions_approved_tag_key
	ON sessions (rfid_tag) WHERE status = 'approved' AND rfid_tag <> ''`

func openGorm(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Storyline{},
		&Controller{},
		&Session{},
		&Checkpoint{},
		&Audit{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	for _, fk := range []struct {
		model any
		name  string
	}{
		{&Session{}, "Storyline"},
		{&Checkpoint{}, "Session"},
		{&Checkpoint{}, "Controller"},
	} {
		if m.HasConstraint(fk.model, fk.name) {
			continue
		}
		if err := m.CreateConstraint(fk.model, fk.name); err != nil {
			return err
		}
	}

	return gormDB.WithContext(ctx).Exec(approvedTagIndex).Error
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&Checkpoint{},
		&Session{},
		&Controller{},
		&Storyline{},
	)
}
