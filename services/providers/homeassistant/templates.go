package homeassistant

import (
	"strings"
)

// defaultIgnoredEntities are entity ID fragments that carry no useful
// information for a household assistant
var defaultIgnoredEntities = []string{
	"_power_source", "_learned_ir_code", "_sensor_battery", "_hooks_state",
	"_motor_state", "_target_position", "_button_action",
	"_vibration_sensor_x_axis", "_vibration_sensor_y_axis", "_vibration_sensor_z_axis",
	"_vibration_sensor_angle_x", "_vibration_sensor_angle_y", "_vibration_sensor_angle_z",
	"_vibration_sensor_device_temperature", "_vibration_sensor_action",
	"_vibration_sensor_power_outage_count", "update.", "_motion_sensor_sensitivity",
	"_motion_sensor_keep_time", "_curtain_driver_left_hooks_lock",
	"_curtain_driver_right_hooks_lock", "_curtain_driver_left_hand_open",
	"_curtain_driver_right_hand_open", "_curtain_driver_left_device_temperature",
	"_curtain_driver_right_device_temperature", "_curtain_driver_left_running",
	"_curtain_driver_right_running", "_update_available",
}

// areasTemplate renders every area as a JSON object followed by a comma
const areasTemplate = `
{%- for area in areas() %}
{
    "area_id": "{{area}}",
    "area_name": "{{ area_name(area) }}",
    "type": "area"
},
{%- endfor %}
`

// entityLoop walks the visible, meaningful entities of an area and renders
// __ENTITY__ for each one
const entityLoop = `
{%- set ignored = __IGNORED__ %}
{%- for device in area_devices(__AREA_ID__) %}
  {%- if not device_attr(device, "disabled_by") and not device_attr(device, "entry_type") and device_attr(device, "name") %}
    {%- for entity in device_entities(device) %}
      {%- set ns = namespace(skip=false) %}
      {%- set entity_domain = entity.split('.')[0] %}
      {%- if not is_state(entity, 'unavailable') and not is_state(entity, 'unknown') and not is_state(entity, "None") and not is_hidden_entity(entity) %}
        {%- for fragment in ignored %}
          {%- if fragment in entity|string %}
            {%- set ns.skip = true %}
            {%- break %}
          {%- endif %}
        {%- endfor %}
        {%- if not ns.skip %}
__ENTITY__
        {%- endif %}
      {%- endif %}
    {%- endfor %}
  {%- endif %}
{%- endfor %}
`

const titleEntity = `
{{ state_attr(entity, 'friendly_name') }} (Entity ID: {{entity}})
`

const summaryEntity = `
          {%- if entity_domain == "light" and state_attr(entity, 'brightness') %}

{{ state_attr(entity, 'friendly_name') }} (Entity ID: {{entity}}) is {{ states(entity) }} with a brightness of {{ (state_attr(entity, 'brightness') | float / 255 * 100) | int }}%
          {%- else %}

{{ state_attr(entity, 'friendly_name') }} (Entity ID: {{entity}}) is {{ states(entity) }}
          {%- endif %}
`

// jinjaString quotes s as a single-quoted Jinja string literal
func jinjaString(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

func jinjaList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = jinjaString(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func (p *Provider) loop(areaID, entity string) string {
	return strings.NewReplacer(
		"__IGNORED__", jinjaList(p.ignored),
		"__AREA_ID__", jinjaString(areaID),
		"__ENTITY__", entity,
	).Replace(entityLoop)
}

// titleTemplate renders the area heading followed by one line per entity
func (p *Provider) titleTemplate(a area) string {
	return "\nDevices in area " + a.Name + " (Area ID: " + a.ID + "):" + p.loop(a.ID, titleEntity)
}

// summaryTemplate renders the live state of every entity in the area
func (p *Provider) summaryTemplate(a area) string {
	return p.loop(a.ID, summaryEntity)
}
