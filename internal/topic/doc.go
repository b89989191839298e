// Package topic resolves symbolic channel codes to MQTT topic strings.
//
// A channel is one of a fixed set of short codes:
//
//	C  climate        {location_path}/climate
//	G  gases          {location_path}/gases
//	P  particulates   {location_path}/particulates
//	S  status         {device_path}/{tag}/status
//	X  control        {device_path}/{tag}/control
//
// Paths come from the project document, the tag from the device identity
// document. An explicit topic passes through unchanged. Resolution happens
// once per topic at startup, never per message.
package topic
