/*
Package objdetect is a multi-scale object detector running boosted cascades of
Haar, LBP or HOG features, trained and stored in the layout used by OpenCV.

The image is scanned at every scale between the minimum and the maximum object size.
Each scale is split in horizontal strips evaluated concurrently, and the raw hits
of every scale are grouped into the final detections. Stump based Haar and LBP
cascades can be offloaded to a device registered with the accel package.

The package provides a command line interface and an HTTP service. To check the
supported flags type:

	$ objdetect --help

In case you wish to integrate the API in a self constructed environment here is a simple example:

	package main

	import (
		"fmt"

		"github.com/esimov/objdetect"
	)

	func main() {
		c, err := objdetect.Load("haarcascade_frontalface_default.xml")
		if err != nil {
			fmt.Printf("Error loading the cascade: %s", err.Error())
			return
		}
		defer c.Close()

		img, err := objdetect.OpenImage("faces.jpg")
		if err != nil {
			fmt.Printf("Error opening the image: %s", err.Error())
			return
		}

		rects, err := c.DetectMultiScale(img, objdetect.DefaultOptions())
		if err != nil {
			fmt.Printf("Error detecting faces: %s", err.Error())
			return
		}
		fmt.Println(rects)
	}

Cascades in the binary format of pigo are accepted once the bridge is imported:

	import _ "github.com/esimov/objdetect/legacy/pigocascade"
*/
package objdetect
