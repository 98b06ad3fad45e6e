package models

// Setting maps to the `settings` table: runtime key/value configuration
// editable from the admin API without a redeploy.
type Setting struct {
	ID    uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Key   string `gorm:"column:name;size:100;uniqueIndex" json:"name"`
	Value string `gorm:"column:value;type:text" json:"value"`
}

func (Setting) TableName() string {
	return "settings"
}
